// Package scheduler matches pending tasks to eligible agents, enforcing
// at-most-one active task per agent and at-most-one assigned agent per task,
// and handles abandon, timeout, and rebalance.
package scheduler

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/otelx"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/planner"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

const maxAssignRetries = 5

// Scheduler implements the Task Scheduler operations.
type Scheduler struct {
	store   repository.Store
	clock   clock.Clock
	ids     clock.IDGenerator
	cfg     *config.SchedulerConfig
	planner *planner.Planner
	events  events.Emitter

	// replanGroup collapses concurrent Replan calls for the same attack
	// (e.g. two agents abandoning at once) into a single recomputation.
	replanGroup singleflight.Group
}

// New builds a Scheduler. events may be a no-op emitter.
func New(store repository.Store, c clock.Clock, ids clock.IDGenerator, cfg *config.SchedulerConfig, p *planner.Planner, emitter events.Emitter) *Scheduler {
	return &Scheduler{store: store, clock: c, ids: ids, cfg: cfg, planner: p, events: emitter}
}

// RequestTask assigns the best-ranked eligible pending task to the agent.
// Returns (nil, nil) when no task qualifies.
func (s *Scheduler) RequestTask(ctx context.Context, agentID string) (*models.Task, error) {
	ctx, end := otelx.Span(ctx, "scheduler.request_task")
	defer end()

	var assigned *models.Task
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.State != models.AgentStateActive {
			return corekit.New(corekit.KindConflict, "agent is not active")
		}
		if agent.AssignedTaskID != nil {
			existing, err := tx.GetTask(ctx, *agent.AssignedTaskID)
			if err != nil {
				return err
			}
			assigned = existing
			return nil
		}

		candidates, err := tx.ListCandidateTasks(ctx, agent)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		tries := 0
		for _, task := range candidates {
			if tries >= maxAssignRetries {
				break
			}
			tries++

			task.State = models.TaskStateAssigned
			task.AssignedAgentID = &agent.ID
			task.AssignedAt = &now
			if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
				if corekit.Is(err, corekit.KindStale) || corekit.Is(err, corekit.KindConflict) {
					continue
				}
				return err
			}

			agent.AssignedTaskID = &task.ID
			if err := tx.UpdateAgent(ctx, agent, agent.Version); err != nil {
				return err
			}
			assigned = task
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if assigned != nil {
		s.events.Emit(events.KindTask, assigned.ID)
		s.events.Emit(events.KindAgent, agentID)
	}
	return assigned, nil
}

// AcceptTask records the agent's acceptance of its assigned task. A second
// accept from the same agent is a no-op.
func (s *Scheduler) AcceptTask(ctx context.Context, agentID, taskID string) error {
	ctx, end := otelx.Span(ctx, "scheduler.accept_task")
	defer end()

	return s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return corekit.ErrNotFound
		}
		if task.AcceptedAt != nil {
			return nil // idempotent
		}
		if task.State.IsTerminal() {
			return corekit.ErrConflict
		}

		now := s.clock.Now()
		task.AcceptedAt = &now
		if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
			return err
		}

		attack, err := tx.GetAttack(ctx, task.AttackID)
		if err != nil {
			return err
		}
		if attack.State == models.AttackStatePending {
			attack.State = models.AttackStateRunning
			if err := tx.UpdateAttack(ctx, attack, attack.Version); err != nil {
				return err
			}
		}
		return nil
	})
}

// AbandonTask releases the task back to pending and records the release as
// an AgentError. Triggers a replan when the abandoning agent's benchmark
// deviates materially from the planning median.
func (s *Scheduler) AbandonTask(ctx context.Context, agentID, taskID string) (models.AbandonResult, error) {
	ctx, end := otelx.Span(ctx, "scheduler.abandon_task")
	defer end()

	var (
		result       models.AbandonResult
		attackID     string
		shouldReplan bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return corekit.ErrNotFound
		}
		if task.State.IsTerminal() {
			return corekit.ErrConflict
		}

		attack, err := tx.GetAttack(ctx, task.AttackID)
		if err != nil {
			return err
		}
		attackID = attack.ID

		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}

		task.State = models.TaskStatePending
		task.AssignedAgentID = nil
		task.AssignedAt = nil
		task.AcceptedAt = nil
		if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
			return err
		}

		agent.AssignedTaskID = nil
		if err := tx.UpdateAgent(ctx, agent, agent.Version); err != nil {
			return err
		}

		reason := "abandon"
		if speed, ok := agent.MedianHashSpeed(attack.HashType); ok {
			if planningMedian, ok := planningMedianFor(ctx, tx, attack.HashType); ok && deviates(speed, planningMedian, s.cfg.ReplanThreshold) {
				shouldReplan = true
				reason = "abandon: benchmark deviation triggered replan"

				attack.LastReplan = &models.ReplanAudit{
					At:            s.clock.Now(),
					AgentID:       agentID,
					OldMedian:     planningMedian,
					NewAgentSpeed: speed,
					Reason:        reason,
				}
				if err := tx.UpdateAttack(ctx, attack, attack.Version); err != nil {
					return err
				}
			}
		}

		if err := tx.InsertAgentError(ctx, &models.AgentError{
			ID:        s.ids.NewID(),
			AgentID:   agentID,
			Severity:  models.SeverityMinor,
			TaskID:    &taskID,
			Message:   reason,
			CreatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}

		result = models.AbandonResult{Success: true, State: models.TaskStatePending}
		return nil
	})
	if err != nil {
		return models.AbandonResult{}, err
	}
	if shouldReplan {
		if err := s.Replan(ctx, attackID); err != nil {
			return result, err
		}
	}
	s.events.Emit(events.KindTask, taskID)
	s.events.Emit(events.KindAgent, agentID)
	return result, nil
}

// MarkExhausted marks the agent's slice exhausted, releases the assignment,
// and rolls terminal state up to the attack and campaign.
func (s *Scheduler) MarkExhausted(ctx context.Context, agentID, taskID string) error {
	var attackID string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return corekit.ErrNotFound
		}
		attackID = task.AttackID

		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}

		task.State = models.TaskStateExhausted
		task.AssignedAgentID = nil
		if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
			return err
		}

		agent.AssignedTaskID = nil
		if err := tx.UpdateAgent(ctx, agent, agent.Version); err != nil {
			return err
		}

		_, err = rollupAttack(ctx, tx, task.AttackID)
		return err
	})
	if err != nil {
		return err
	}
	s.events.Emit(events.KindTask, taskID)
	s.events.Emit(events.KindAgent, agentID)
	s.events.Emit(events.KindAttack, attackID)
	return nil
}

// PauseCampaign marks the campaign paused and preempts its in-flight tasks.
func (s *Scheduler) PauseCampaign(ctx context.Context, campaignID string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		campaign, err := tx.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		campaign.State = models.CampaignStatePaused
		if err := tx.UpdateCampaign(ctx, campaign, campaign.Version); err != nil {
			return err
		}
		attacks, err := tx.ListAttacksByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		for _, attack := range attacks {
			if err := pauseAttackTasks(ctx, tx, attack.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.Emit(events.KindCampaign, campaignID)
	return nil
}

// ResumeCampaign reactivates a paused campaign and returns its paused tasks
// to assigned.
func (s *Scheduler) ResumeCampaign(ctx context.Context, campaignID string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		campaign, err := tx.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		campaign.State = models.CampaignStateActive
		if err := tx.UpdateCampaign(ctx, campaign, campaign.Version); err != nil {
			return err
		}
		attacks, err := tx.ListAttacksByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		for _, attack := range attacks {
			if err := resumeAttackTasks(ctx, tx, attack.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.Emit(events.KindCampaign, campaignID)
	return nil
}

func pauseAttackTasks(ctx context.Context, tx repository.Tx, attackID string) error {
	tasks, err := tx.ListTasksByAttack(ctx, attackID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.State == models.TaskStateRunning || t.State == models.TaskStateAssigned {
			t.State = models.TaskStatePaused
			if err := tx.UpdateTask(ctx, t, t.Version); err != nil {
				return err
			}
		}
	}
	return nil
}

func resumeAttackTasks(ctx context.Context, tx repository.Tx, attackID string) error {
	tasks, err := tx.ListTasksByAttack(ctx, attackID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.State == models.TaskStatePaused {
			t.State = models.TaskStateAssigned
			if err := tx.UpdateTask(ctx, t, t.Version); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rebalance handles an attack configuration change: every in-flight task is
// abandoned back to pending and a replan is triggered.
func (s *Scheduler) Rebalance(ctx context.Context, attackID string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		tasks, err := tx.ListTasksByAttack(ctx, attackID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.State.IsTerminal() || t.State == models.TaskStatePending {
				continue
			}
			if t.AssignedAgentID != nil {
				if agent, err := tx.GetAgent(ctx, *t.AssignedAgentID); err == nil {
					agent.AssignedTaskID = nil
					if err := tx.UpdateAgent(ctx, agent, agent.Version); err != nil {
						return err
					}
				}
			}
			t.State = models.TaskStatePending
			t.AssignedAgentID = nil
			t.AssignedAt = nil
			t.AcceptedAt = nil
			if err := tx.UpdateTask(ctx, t, t.Version); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.Replan(ctx, attackID)
}

// Replan re-slices an attack's incomplete (pending) task intervals using the
// current planning median: those rows are retired as abandoned and a fresh
// set of pending tasks is inserted in their place.
func (s *Scheduler) Replan(ctx context.Context, attackID string) error {
	ctx, end := otelx.Span(ctx, "scheduler.replan")
	defer end()

	_, err, _ := s.replanGroup.Do(attackID, func() (any, error) {
		return nil, s.replan(ctx, attackID)
	})
	return err
}

func (s *Scheduler) replan(ctx context.Context, attackID string) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		attack, err := tx.GetAttack(ctx, attackID)
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasksByAttack(ctx, attackID)
		if err != nil {
			return err
		}

		var incomplete []planner.TaskSpec
		var superseded []*models.Task
		for _, t := range tasks {
			if t.State == models.TaskStatePending {
				incomplete = append(incomplete, planner.TaskSpec{Offset: t.KeyspaceOffset, Length: t.KeyspaceLength})
				superseded = append(superseded, t)
			}
		}
		if len(incomplete) == 0 {
			return nil
		}

		median, _ := planningMedianFor(ctx, tx, attack.HashType)
		specs := s.planner.Replan(incomplete, median)

		// Retire the intervals being re-sliced before inserting their
		// replacements, so the old rows don't double-count the keyspace.
		for _, t := range superseded {
			t.State = models.TaskStateAbandoned
			if err := tx.UpdateTask(ctx, t, t.Version); err != nil {
				return err
			}
		}

		newTasks := make([]*models.Task, 0, len(specs))
		for _, spec := range specs {
			newTasks = append(newTasks, &models.Task{
				ID:             s.ids.NewID(),
				AttackID:       attackID,
				KeyspaceOffset: spec.Offset,
				KeyspaceLength: spec.Length,
				State:          models.TaskStatePending,
			})
		}
		return tx.InsertTasks(ctx, newTasks)
	})
}

// PlanAttackTasks performs an attack's initial planning pass:
// it slices the attack's total keyspace against the current benchmark
// median and inserts the resulting pending tasks. Called once when an
// attack starts; later re-slicing of incomplete work goes through Replan.
func (s *Scheduler) PlanAttackTasks(ctx context.Context, attackID string) error {
	ctx, end := otelx.Span(ctx, "scheduler.plan_attack_tasks")
	defer end()

	return s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		attack, err := tx.GetAttack(ctx, attackID)
		if err != nil {
			return err
		}
		median, _ := planningMedianFor(ctx, tx, attack.HashType)
		specs := s.planner.Plan(attack.TotalKeyspace, median)

		tasks := make([]*models.Task, 0, len(specs))
		for _, spec := range specs {
			tasks = append(tasks, &models.Task{
				ID:             s.ids.NewID(),
				AttackID:       attackID,
				KeyspaceOffset: spec.Offset,
				KeyspaceLength: spec.Length,
				State:          models.TaskStatePending,
			})
		}
		if len(tasks) == 0 {
			// A zero-keyspace attack has nothing to enumerate and is
			// immediately exhausted.
			_, err := rollupAttack(ctx, tx, attackID)
			return err
		}
		return tx.InsertTasks(ctx, tasks)
	})
}

// planningMedianFor computes the median hash_speed across active agents
// benchmarked for hashType.
func planningMedianFor(ctx context.Context, tx repository.Tx, hashType int) (float64, bool) {
	agents, err := tx.ListActiveAgentsWithBenchmark(ctx, hashType)
	if err != nil || len(agents) == 0 {
		return 0, false
	}
	var speeds []float64
	for _, a := range agents {
		if speed, ok := a.MedianHashSpeed(hashType); ok {
			speeds = append(speeds, speed)
		}
	}
	return planner.MedianHashSpeed(speeds)
}

func deviates(speed, median, threshold float64) bool {
	if median == 0 {
		return false
	}
	diff := (speed - median) / median
	if diff < 0 {
		diff = -diff
	}
	return diff > threshold
}

// RollupAttack re-checks whether attackID (and, cascading, its campaign) can
// transition to a terminal state, reporting whether any transition happened.
// Called by Timekeeper's rollup sweep; the same check runs
// inline on mark_exhausted.
func (s *Scheduler) RollupAttack(ctx context.Context, attackID string) (bool, error) {
	var rolled bool
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rolled, err = rollupAttack(ctx, tx, attackID)
		return err
	})
	if err != nil {
		return false, err
	}
	if rolled {
		s.events.Emit(events.KindAttack, attackID)
	}
	return rolled, nil
}

// rollupAttack transitions the attack (and cascades to its campaign) to a
// terminal state once every one of its tasks has reached one. Returns
// whether the attack transitioned.
func rollupAttack(ctx context.Context, tx repository.Tx, attackID string) (bool, error) {
	attack, err := tx.GetAttack(ctx, attackID)
	if err != nil {
		return false, err
	}
	if attack.State.IsTerminal() {
		return false, nil
	}

	tasks, err := tx.ListTasksByAttack(ctx, attackID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.State.IsTerminal() {
			return false, nil // still incomplete work
		}
	}

	campaign, err := tx.GetCampaign(ctx, attack.CampaignID)
	if err != nil {
		return false, err
	}
	hashList, err := tx.GetHashList(ctx, campaign.HashListID)
	if err != nil {
		return false, err
	}

	if hashList.CrackedCount >= hashList.ItemCount && hashList.ItemCount > 0 {
		attack.State = models.AttackStateCompleted
	} else {
		attack.State = models.AttackStateExhausted
	}
	if err := tx.UpdateAttack(ctx, attack, attack.Version); err != nil {
		return false, err
	}

	return true, rollupCampaign(ctx, tx, campaign)
}

// rollupCampaign marks the campaign completed once every one of its attacks
// is terminal.
func rollupCampaign(ctx context.Context, tx repository.Tx, campaign *models.Campaign) error {
	if campaign.State.IsTerminal() {
		return nil
	}
	attacks, err := tx.ListAttacksByCampaign(ctx, campaign.ID)
	if err != nil {
		return err
	}
	for _, a := range attacks {
		if !a.State.IsTerminal() {
			return nil
		}
	}
	campaign.State = models.CampaignStateCompleted
	return tx.UpdateCampaign(ctx, campaign, campaign.Version)
}
