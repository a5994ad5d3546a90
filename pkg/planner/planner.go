// Package planner turns an attack's total keyspace into uniform task-sized
// slices, sized so that each slice's expected runtime falls between the
// configured min and max slice seconds.
package planner

import (
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
)

// TaskSpec is a planned, not-yet-persisted task slice.
type TaskSpec struct {
	Offset uint64
	Length uint64
}

// Planner computes TaskSpecs. It holds no mutable state; every method is a
// pure function of its arguments, so planning the same attack against the
// same benchmark set is deterministic.
type Planner struct {
	cfg *config.SchedulerConfig
}

// New builds a Planner bound to the given scheduler tunables.
func New(cfg *config.SchedulerConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Plan splits [0, totalKeyspace) into uniform slices, sized from
// medianHashSpeed (hashes/sec). Slices are uniform except the last, which may
// be smaller. medianHashSpeed <= 0 falls back to cfg.FallbackHashSpeed.
func (p *Planner) Plan(totalKeyspace uint64, medianHashSpeed float64) []TaskSpec {
	if totalKeyspace == 0 {
		return nil
	}
	return sliceInterval(0, totalKeyspace, p.sliceSize(medianHashSpeed))
}

// Replan re-slices a set of incomplete (pending or abandoned) task intervals
// using a possibly-updated medianHashSpeed, without touching any interval not
// passed in. Each input interval is re-sliced independently so assigned and
// completed task rows elsewhere in the attack are left alone.
func (p *Planner) Replan(incomplete []TaskSpec, medianHashSpeed float64) []TaskSpec {
	size := p.sliceSize(medianHashSpeed)
	var out []TaskSpec
	for _, iv := range incomplete {
		out = append(out, sliceInterval(iv.Offset, iv.Offset+iv.Length, size)...)
	}
	return out
}

// sliceSize picks S such that expected runtime sits at the midpoint between
// MinSliceSeconds and MaxSliceSeconds.
func (p *Planner) sliceSize(medianHashSpeed float64) uint64 {
	speed := medianHashSpeed
	if speed <= 0 {
		speed = p.cfg.FallbackHashSpeed
	}
	targetSeconds := float64(p.cfg.MinSliceSeconds+p.cfg.MaxSliceSeconds) / 2
	size := uint64(speed * targetSeconds)
	if size == 0 {
		size = 1
	}
	return size
}

// sliceInterval splits [start, end) into consecutive [offset, offset+length)
// chunks of at most size, in ascending order.
func sliceInterval(start, end, size uint64) []TaskSpec {
	if end <= start || size == 0 {
		return nil
	}
	total := end - start
	count := (total + size - 1) / size // ceil(total/size)
	specs := make([]TaskSpec, 0, count)
	offset := start
	for offset < end {
		length := size
		if offset+length > end {
			length = end - offset
		}
		specs = append(specs, TaskSpec{Offset: offset, Length: length})
		offset += length
	}
	return specs
}

// MedianHashSpeed computes the median hash_speed across samples, or
// (0, false) if none are given. Shared by callers that gather benchmark
// samples from several agents before calling Plan/Replan.
func MedianHashSpeed(speeds []float64) (float64, bool) {
	if len(speeds) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), speeds...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}
