// Package reconciler ingests an agent's periodic status report for its
// assigned task, rejecting stale or malformed reports and updating
// progress/ETA for well-formed ones.
package reconciler

import (
	"context"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/otelx"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

// Reconciler implements submit_status.
type Reconciler struct {
	store  repository.Store
	clock  clock.Clock
	cfg    *config.SchedulerConfig
	events events.Emitter
}

// New builds a Reconciler.
func New(store repository.Store, c clock.Clock, cfg *config.SchedulerConfig, emitter events.Emitter) *Reconciler {
	return &Reconciler{store: store, clock: c, cfg: cfg, events: emitter}
}

// SubmitStatus applies report to the task currently held by agentID, checking
// ownership, pause preemption, staleness, and progress validity before the
// update itself. Outcomes:
//   - Preempted: the task (or its attack/campaign) is paused, or the task has
//     already reached a terminal state; progress is not touched.
//   - Stale: report.Timestamp predates the last accepted report by more than
//     cfg.StaleWindow; progress and last_status_at are not touched.
//   - Malformed: progress_processed overruns the slice or regresses past
//     what's already recorded (monotonicity).
//   - OK: report applied, progress/ETA updated.
//
// A task not owned by agentID is a NotFound error, not an outcome.
func (r *Reconciler) SubmitStatus(ctx context.Context, agentID, taskID string, report models.StatusReport) (outcome models.StatusOutcome, err error) {
	ctx, end := otelx.SpanErr(ctx, "reconciler.submit_status")
	defer func() { end(err) }()

	err = r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return corekit.ErrNotFound
		}
		if task.State.IsTerminal() {
			outcome = models.StatusOutcomePreempted
			return nil
		}

		paused, err := isPaused(ctx, tx, task)
		if err != nil {
			return err
		}
		if paused {
			outcome = models.StatusOutcomePreempted
			return nil
		}

		if task.LastStatusAt != nil {
			drift := task.LastStatusAt.Sub(report.Timestamp)
			if drift > r.cfg.StaleWindow {
				outcome = models.StatusOutcomeStale
				return nil
			}
		}

		if report.ProgressProcessed > report.ProgressTotal && report.ProgressTotal > 0 {
			outcome = models.StatusOutcomeMalformed
			return nil
		}
		if report.ProgressProcessed > task.KeyspaceLength {
			outcome = models.StatusOutcomeMalformed
			return nil
		}
		if report.ProgressProcessed < task.ProgressOffset {
			outcome = models.StatusOutcomeMalformed
			return nil
		}

		now := r.clock.Now()
		if task.State == models.TaskStateAssigned {
			task.State = models.TaskStateRunning
		}
		task.ProgressOffset = report.ProgressProcessed
		task.LastStatusAt = &now
		task.RejectedCount += report.Rejected
		task.DeviceSpeeds = statusSpeeds(report.DeviceStatuses)
		task.ETASeconds = estimateETA(task, report)

		if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
			return err
		}
		outcome = models.StatusOutcomeOK
		return nil
	})
	if err != nil {
		return "", err
	}
	if outcome == models.StatusOutcomeOK {
		r.events.Emit(events.KindTask, taskID)
	}
	return outcome, nil
}

// isPaused reports whether the task, its attack, or its campaign is paused.
func isPaused(ctx context.Context, tx repository.Tx, task *models.Task) (bool, error) {
	if task.State == models.TaskStatePaused {
		return true, nil
	}
	attack, err := tx.GetAttack(ctx, task.AttackID)
	if err != nil {
		return false, err
	}
	if attack.State == models.AttackStatePaused {
		return true, nil
	}
	campaign, err := tx.GetCampaign(ctx, attack.CampaignID)
	if err != nil {
		return false, err
	}
	return campaign.State == models.CampaignStatePaused, nil
}

func statusSpeeds(in []models.DeviceSpeed) []models.DeviceSpeed {
	if in == nil {
		return nil
	}
	out := make([]models.DeviceSpeed, len(in))
	copy(out, in)
	return out
}

// estimateETA derives remaining seconds from the aggregate device hash_speed
// reported this cycle. ETA is best-effort: nil when no speed was reported.
func estimateETA(task *models.Task, report models.StatusReport) *float64 {
	remaining := task.KeyspaceLength - task.ProgressOffset
	if remaining == 0 {
		zero := 0.0
		return &zero
	}
	var total float64
	for _, d := range report.DeviceStatuses {
		total += d.HashSpeed
	}
	if total <= 0 {
		return nil
	}
	eta := float64(remaining) / total
	return &eta
}
