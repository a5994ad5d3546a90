package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
)

func testPlanner() *Planner {
	return New(config.DefaultSchedulerConfig())
}

func TestPlanZeroKeyspaceProducesNoTasks(t *testing.T) {
	p := testPlanner()
	assert.Empty(t, p.Plan(0, 10_000_000))
}

func TestPlanUniformSlicesExceptLast(t *testing.T) {
	p := testPlanner()
	specs := p.Plan(2_000_000, 10_000_000)
	require.NotEmpty(t, specs)

	for i, s := range specs {
		if i < len(specs)-1 {
			assert.Equal(t, specs[0].Length, s.Length, "slice %d should match the uniform size", i)
		}
	}

	// Intervals are contiguous, disjoint, and cover [0, total).
	var offset uint64
	for _, s := range specs {
		assert.Equal(t, offset, s.Offset)
		offset += s.Length
	}
	assert.Equal(t, uint64(2_000_000), offset)
}

func TestPlanIsDeterministic(t *testing.T) {
	p := testPlanner()
	a := p.Plan(5_000_000, 7_500_000)
	b := p.Plan(5_000_000, 7_500_000)
	assert.Equal(t, a, b)
}

func TestPlanFallsBackWhenNoBenchmark(t *testing.T) {
	p := testPlanner()
	withFallback := p.Plan(1_000_000, 0)
	cfg := config.DefaultSchedulerConfig()
	explicit := New(cfg).Plan(1_000_000, cfg.FallbackHashSpeed)
	assert.Equal(t, explicit, withFallback)
}

func TestReplanOnlyTouchesGivenIntervals(t *testing.T) {
	p := testPlanner()
	incomplete := []TaskSpec{{Offset: 1_000_000, Length: 1_000_000}}
	specs := p.Replan(incomplete, 10_000_000)
	require.NotEmpty(t, specs)
	assert.Equal(t, uint64(1_000_000), specs[0].Offset)

	var covered uint64
	for _, s := range specs {
		covered += s.Length
	}
	assert.Equal(t, uint64(1_000_000), covered)
}

func TestMedianHashSpeed(t *testing.T) {
	m, ok := MedianHashSpeed([]float64{10, 20, 30})
	require.True(t, ok)
	assert.Equal(t, float64(20), m)

	m, ok = MedianHashSpeed([]float64{10, 20, 30, 40})
	require.True(t, ok)
	assert.Equal(t, float64(25), m)

	_, ok = MedianHashSpeed(nil)
	assert.False(t, ok)
}
