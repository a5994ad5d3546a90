package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

func newTestReconciler(t *testing.T) (*Reconciler, repository.Store, *clock.Fake) {
	t.Helper()
	store := repository.NewMemory()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := New(store, fake, config.DefaultSchedulerConfig(), events.NoopEmitter{})
	return rec, store, fake
}

func seedAssignedTask(t *testing.T, store repository.Store) (agentID, taskID string) {
	t.Helper()
	agentID, taskID = "agent-1", "task-1"
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		campaign := &models.Campaign{ID: "campaign-1", HashListID: "hl-1", State: models.CampaignStateActive, Version: 1}
		if err := tx.InsertCampaign(ctx, campaign); err != nil {
			return err
		}
		attack := &models.Attack{ID: "attack-1", CampaignID: campaign.ID, State: models.AttackStateRunning, Version: 1}
		if err := tx.InsertAttack(ctx, attack); err != nil {
			return err
		}
		if err := tx.InsertAgent(ctx, &models.Agent{ID: agentID, State: models.AgentStateActive, AssignedTaskID: &taskID, Version: 1}, "unused"); err != nil {
			return err
		}
		task := &models.Task{
			ID: taskID, AttackID: attack.ID, KeyspaceLength: 1000,
			State: models.TaskStateAssigned, AssignedAgentID: &agentID, Version: 1,
		}
		return tx.InsertTasks(ctx, []*models.Task{task})
	}))
	return agentID, taskID
}

func getTask(t *testing.T, store repository.Store, taskID string) *models.Task {
	t.Helper()
	var task *models.Task
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		return err
	}))
	return task
}

func TestSubmitStatusOKUpdatesProgress(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp:         fake.Now(),
		ProgressProcessed: 100,
		ProgressTotal:     1000,
		DeviceStatuses:    []models.DeviceSpeed{{DeviceIndex: 0, HashSpeed: 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomeOK, outcome)

	task := getTask(t, store, taskID)
	assert.Equal(t, uint64(100), task.ProgressOffset)
	assert.Equal(t, models.TaskStateRunning, task.State)
	require.NotNil(t, task.LastStatusAt)
	assert.Equal(t, fake.Now(), *task.LastStatusAt)
	require.NotNil(t, task.ETASeconds)
	assert.InDelta(t, 90.0, *task.ETASeconds, 0.001)
}

func TestSubmitStatusRejectsRegression(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	_, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 500, ProgressTotal: 1000,
	})
	require.NoError(t, err)

	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 100, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomeMalformed, outcome)

	assert.Equal(t, uint64(500), getTask(t, store, taskID).ProgressOffset)
}

func TestSubmitStatusRejectsOverrunProcessed(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 5000, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomeMalformed, outcome)
}

func TestSubmitStatusFullSliceProgressIsValid(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 1000, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomeOK, outcome)

	task := getTask(t, store, taskID)
	assert.Equal(t, uint64(1000), task.ProgressOffset)
	require.NotNil(t, task.ETASeconds)
	assert.Zero(t, *task.ETASeconds)
}

func TestSubmitStatusRejectsStaleTimestampWithoutUpdate(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	_, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 100, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	before := getTask(t, store, taskID)

	staleTimestamp := fake.Now().Add(-1 * time.Hour)
	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: staleTimestamp, ProgressProcessed: 200, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomeStale, outcome)

	after := getTask(t, store, taskID)
	assert.Equal(t, before.ProgressOffset, after.ProgressOffset)
	assert.Equal(t, *before.LastStatusAt, *after.LastStatusAt)
}

func TestSubmitStatusNotOwnedIsNotFound(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	_, taskID := seedAssignedTask(t, store)

	_, err := rec.SubmitStatus(context.Background(), "someone-else", taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 100, ProgressTotal: 1000,
	})
	assert.True(t, corekit.Is(err, corekit.KindNotFound))
}

func TestSubmitStatusPreemptedWhilePausedWithoutUpdate(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		task.State = models.TaskStatePaused
		return tx.UpdateTask(ctx, task, task.Version)
	}))

	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 300, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomePreempted, outcome)
	assert.Zero(t, getTask(t, store, taskID).ProgressOffset)
}

func TestSubmitStatusPreemptedWhileCampaignPaused(t *testing.T) {
	rec, store, fake := newTestReconciler(t)
	agentID, taskID := seedAssignedTask(t, store)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		campaign, err := tx.GetCampaign(ctx, "campaign-1")
		if err != nil {
			return err
		}
		campaign.State = models.CampaignStatePaused
		return tx.UpdateCampaign(ctx, campaign, campaign.Version)
	}))

	outcome, err := rec.SubmitStatus(context.Background(), agentID, taskID, models.StatusReport{
		Timestamp: fake.Now(), ProgressProcessed: 300, ProgressTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOutcomePreempted, outcome)
}
