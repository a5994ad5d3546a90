// Package events carries "something changed about X" notifications from the
// core components to external consumers: an Emitter publishes over Postgres
// NOTIFY after commit, and a per-process Listener/Broadcaster pair fans the
// stream out over Server-Sent Events.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Kind classifies what changed.
type Kind string

// Kinds of change an Emitter carries.
const (
	KindAgent    Kind = "agent"
	KindTask     Kind = "task"
	KindAttack   Kind = "attack"
	KindCampaign Kind = "campaign"
	KindCrack    Kind = "crack"
)

// Event is a single notification fanned out to subscribers.
type Event struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter broadcasts lifecycle change notifications. Core components call
// Emit after a transaction commits; they never block on delivery.
type Emitter interface {
	Emit(kind Kind, id string)
}

// NoopEmitter discards every event. Used by tests and any command-line tool
// that doesn't run the SSE surface.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Kind, string) {}

// PGEmitter publishes events via pg_notify on a dedicated channel. Events
// are transient: consumers that miss one resync from a GET, so notifications
// need not survive a broker restart.
type PGEmitter struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPGEmitter builds a PGEmitter broadcasting on the given NOTIFY channel.
func NewPGEmitter(pool *pgxpool.Pool, channel string) *PGEmitter {
	return &PGEmitter{pool: pool, channel: channel}
}

// Emit implements Emitter. Failures are logged, not returned: a dropped
// notification only delays a consumer's next poll, it never corrupts state.
func (p *PGEmitter) Emit(kind Kind, id string) {
	payload, err := json.Marshal(Event{Kind: kind, ID: id, Timestamp: time.Now()})
	if err != nil {
		slog.Error("failed to marshal event payload", "kind", kind, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		slog.Error("pg_notify failed", "channel", p.channel, "error", err)
	}
}

// String satisfies fmt.Stringer for log lines that print a Kind.
func (k Kind) String() string { return string(k) }
