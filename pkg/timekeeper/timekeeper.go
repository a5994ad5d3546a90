// Package timekeeper runs the periodic sweep that detects agent liveness
// timeouts, stale running tasks, and assigned tasks never accepted, and
// rolls completed campaigns/attacks up to their terminal states. The sweep's
// independent passes fan out via golang.org/x/sync/errgroup.
package timekeeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/scheduler"
)

// Report summarizes the outcome of one sweep, returned to callers (and to
// the admin gRPC surface's TimekeeperControl) for observability.
type Report struct {
	At                  time.Time
	AgentsMarkedOffline int
	TasksTimedOut       int
	TasksReverted       int
	RollupsPerformed    int
}

// Timekeeper runs the periodic sweep.
type Timekeeper struct {
	store  repository.Store
	clock  clock.Clock
	cfg    *config.SchedulerConfig
	sched  *scheduler.Scheduler
	events events.Emitter

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.RWMutex
	lastReport Report
}

// New builds a Timekeeper.
func New(store repository.Store, c clock.Clock, cfg *config.SchedulerConfig, sched *scheduler.Scheduler, emitter events.Emitter) *Timekeeper {
	return &Timekeeper{store: store, clock: c, cfg: cfg, sched: sched, events: emitter, stopCh: make(chan struct{})}
}

// Start begins the sweep loop in a goroutine, ticking every cfg.SweepInterval.
func (tk *Timekeeper) Start(ctx context.Context) {
	tk.wg.Add(1)
	go tk.run(ctx)
}

// Stop signals the sweep loop to exit and waits for it to finish. Safe to
// call multiple times.
func (tk *Timekeeper) Stop() {
	tk.stopOnce.Do(func() { close(tk.stopCh) })
	tk.wg.Wait()
}

// LastReport returns the most recently completed sweep's counters.
func (tk *Timekeeper) LastReport() Report {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.lastReport
}

func (tk *Timekeeper) run(ctx context.Context) {
	defer tk.wg.Done()
	log := slog.With("component", "timekeeper")
	log.Info("timekeeper started", "interval", tk.cfg.SweepInterval)

	ticker := time.NewTicker(tk.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tk.stopCh:
			log.Info("timekeeper shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, timekeeper shutting down")
			return
		case <-ticker.C:
			if _, err := tk.Sweep(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass of every liveness and timeout check. The three
// timeout passes share no mutable state, so they run concurrently via
// errgroup; the terminal-state rollup runs after they have settled, since
// releasing a timed-out task can change what is rollable.
func (tk *Timekeeper) Sweep(ctx context.Context) (Report, error) {
	now := tk.clock.Now()
	report := Report{At: now}

	var offlineCount, timedOutCount, revertedCount int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := tk.sweepOfflineAgents(gctx, now)
		offlineCount = n
		return err
	})
	g.Go(func() error {
		n, err := tk.sweepStaleRunningTasks(gctx, now)
		timedOutCount = n
		return err
	})
	g.Go(func() error {
		n, err := tk.sweepUnacceptedTasks(gctx, now)
		revertedCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rollups, err := tk.sweepRollups(ctx)
	if err != nil {
		return Report{}, err
	}

	report.AgentsMarkedOffline = offlineCount
	report.TasksTimedOut = timedOutCount
	report.TasksReverted = revertedCount
	report.RollupsPerformed = rollups

	tk.mu.Lock()
	tk.lastReport = report
	tk.mu.Unlock()
	return report, nil
}

// sweepRollups rolls attack/campaign states up once all their children have
// reached terminal states. Only running attacks are
// considered: pending ones have not been planned yet, so an empty task list
// there means "not started", not "finished".
func (tk *Timekeeper) sweepRollups(ctx context.Context) (int, error) {
	var candidates []*models.Attack
	err := tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		attacks, err := tx.ListAttacksByStates(ctx, models.AttackStateRunning)
		if err != nil {
			return err
		}
		candidates = attacks
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, attack := range candidates {
		rolled, err := tk.sched.RollupAttack(ctx, attack.ID)
		if err != nil {
			if corekit.Is(err, corekit.KindNotFound) || corekit.Is(err, corekit.KindConflict) {
				continue
			}
			return count, err
		}
		if rolled {
			count++
		}
	}
	return count, nil
}

// sweepOfflineAgents marks agents offline whose last_seen_at exceeds
// max(3*update_interval, cfg.MinOfflineThreshold) and releases any held task.
func (tk *Timekeeper) sweepOfflineAgents(ctx context.Context, now time.Time) (int, error) {
	var staleAgents []*models.Agent
	err := tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agents, err := tx.ListAgentsLastSeenBefore(ctx, now.Add(-tk.cfg.MinOfflineThreshold))
		if err != nil {
			return err
		}
		staleAgents = agents
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, agent := range staleAgents {
		threshold := livenessThreshold(agent.Config.UpdateInterval(), tk.cfg.MinOfflineThreshold)
		if now.Sub(agent.LastSeenAt) < threshold {
			continue
		}
		if agent.State == models.AgentStateOffline {
			continue
		}
		if err := tk.markAgentOffline(ctx, agent.ID); err != nil {
			return count, err
		}
		tk.events.Emit(events.KindAgent, agent.ID)
		count++
	}
	return count, nil
}

func (tk *Timekeeper) markAgentOffline(ctx context.Context, agentID string) error {
	return tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			if corekit.Is(err, corekit.KindNotFound) {
				return nil
			}
			return err
		}
		if agent.AssignedTaskID != nil {
			task, err := tx.GetTask(ctx, *agent.AssignedTaskID)
			if err == nil {
				task.State = models.TaskStatePending
				task.AssignedAgentID = nil
				task.AssignedAt = nil
				task.AcceptedAt = nil
				if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
					return err
				}
			}
			agent.AssignedTaskID = nil
		}
		agent.State = models.AgentStateOffline
		return tx.UpdateAgent(ctx, agent, agent.Version)
	})
}

// sweepStaleRunningTasks abandons (on the agent's behalf) any task in
// `running` whose last_status_at exceeds max(3*update_interval, StatusTimeoutFloor).
func (tk *Timekeeper) sweepStaleRunningTasks(ctx context.Context, now time.Time) (int, error) {
	var candidates []*models.Task
	err := tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		tasks, err := tx.ListTasksByStates(ctx, models.TaskStateRunning)
		if err != nil {
			return err
		}
		candidates = tasks
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, task := range candidates {
		if task.LastStatusAt == nil || task.AssignedAgentID == nil {
			continue
		}

		var updateInterval time.Duration
		err := tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			agent, err := tx.GetAgent(ctx, *task.AssignedAgentID)
			if err != nil {
				return err
			}
			updateInterval = agent.Config.UpdateInterval()
			return nil
		})
		if err != nil {
			continue
		}

		threshold := livenessThreshold(updateInterval, tk.cfg.StatusTimeoutFloor)
		if now.Sub(*task.LastStatusAt) < threshold {
			continue
		}

		if _, err := tk.sched.AbandonTask(ctx, *task.AssignedAgentID, task.ID); err != nil {
			if corekit.Is(err, corekit.KindNotFound) || corekit.Is(err, corekit.KindConflict) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// sweepUnacceptedTasks reverts `assigned` tasks back to `pending` if they
// have not been accepted within cfg.AcceptTimeout.
func (tk *Timekeeper) sweepUnacceptedTasks(ctx context.Context, now time.Time) (int, error) {
	var candidates []*models.Task
	err := tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		tasks, err := tx.ListTasksByStates(ctx, models.TaskStateAssigned)
		if err != nil {
			return err
		}
		candidates = tasks
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, task := range candidates {
		if task.AcceptedAt != nil || task.AssignedAt == nil {
			continue
		}
		if now.Sub(*task.AssignedAt) < tk.cfg.AcceptTimeout {
			continue
		}

		err := tk.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			fresh, err := tx.GetTask(ctx, task.ID)
			if err != nil {
				return err
			}
			if fresh.State != models.TaskStateAssigned || fresh.AcceptedAt != nil {
				return nil
			}
			if fresh.AssignedAgentID != nil {
				if agent, err := tx.GetAgent(ctx, *fresh.AssignedAgentID); err == nil {
					agent.AssignedTaskID = nil
					if err := tx.UpdateAgent(ctx, agent, agent.Version); err != nil {
						return err
					}
				}
			}
			fresh.State = models.TaskStatePending
			fresh.AssignedAgentID = nil
			fresh.AssignedAt = nil
			return tx.UpdateTask(ctx, fresh, fresh.Version)
		})
		if err != nil {
			if corekit.Is(err, corekit.KindNotFound) || corekit.Is(err, corekit.KindConflict) {
				continue
			}
			return count, err
		}
		tk.events.Emit(events.KindTask, task.ID)
		count++
	}
	return count, nil
}

// livenessThreshold implements the max(3*interval, floor) formula shared by
// the liveness checks.
func livenessThreshold(updateInterval, floor time.Duration) time.Duration {
	threshold := 3 * updateInterval
	if threshold < floor {
		return floor
	}
	return threshold
}
