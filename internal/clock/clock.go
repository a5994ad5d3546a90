// Package clock provides the server's notion of "now" and deterministic ID
// generation, kept behind a small interface so scheduling and reconciliation
// logic can be tested with a fake clock instead of wall time.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Production code uses Real; tests substitute
// a Fake so staleness/timeout windows are deterministic.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// Fake is a test Clock with a manually advanced time.
type Fake struct {
	t time.Time
}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

// Now returns the fake clock's current time.
func (f *Fake) Now() time.Time { return f.t }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.t = t
}

// IDGenerator produces new entity identifiers. Kept as an interface so tests
// can assert on deterministic, predictable IDs.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates RFC 4122 v4 identifiers via google/uuid.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.New().String()
}

// SequentialGenerator generates deterministic ids of the form "<prefix>-<n>",
// used in tests that need stable, ordered ids (e.g. for tie-break assertions).
type SequentialGenerator struct {
	Prefix string
	n      int
}

// NewID returns the next sequential id.
func (g *SequentialGenerator) NewID() string {
	g.n++
	return uuidFromSeq(g.Prefix, g.n)
}

func uuidFromSeq(prefix string, n int) string {
	if prefix == "" {
		prefix = "id"
	}
	return prefix + "-" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
