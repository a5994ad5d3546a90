package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Broadcaster fans out Events to local SSE subscriber channels. One
// Broadcaster per process is sufficient: the Listener feeds it from
// Postgres NOTIFY, so every process behind a load balancer observes the
// same stream.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber channel. Callers must call the
// returned cancel func when done to avoid leaking the channel.
func (b *Broadcaster) Subscribe(buffer int) (ch chan Event, cancel func()) {
	ch = make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// publish delivers ev to every subscriber, dropping it for any subscriber
// whose buffer is full rather than blocking the broadcast.
func (b *Broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping event for slow SSE subscriber", "kind", ev.Kind, "id", ev.ID)
		}
	}
}

// Listener subscribes to the Postgres NOTIFY channel written by PGEmitter
// and republishes each payload on a local Broadcaster.
type Listener struct {
	connString  string
	channel     string
	broadcaster *Broadcaster
}

// NewListener builds a Listener that will LISTEN on channel using connString.
func NewListener(connString, channel string, b *Broadcaster) *Listener {
	return &Listener{connString: connString, channel: channel, broadcaster: b}
}

// Run connects, issues LISTEN, and republishes notifications until ctx is
// canceled, reconnecting with backoff on any connection error.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.runOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("event listener disconnected, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	sanitized := pgx.Identifier{l.channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
		return fmt.Errorf("LISTEN %s failed: %w", sanitized, err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			slog.Error("failed to unmarshal event payload", "error", err)
			continue
		}
		l.broadcaster.publish(ev)
	}
}
