package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/planner"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

func newTestScheduler(t *testing.T) (*Scheduler, *repository.Memory, *clock.Fake) {
	t.Helper()
	store := repository.NewMemory()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.DefaultSchedulerConfig()
	sched := New(store, fake, &clock.SequentialGenerator{Prefix: "gen"}, cfg, planner.New(cfg), events.NoopEmitter{})
	return sched, store, fake
}

// seedCampaign creates a campaign/attack/agent/task set with one pending task
// ready to be requested.
func seedCampaign(t *testing.T, store *repository.Memory) (agentID, attackID, taskID string) {
	t.Helper()
	agentID = "agent-1"
	attackID = "attack-1"
	taskID = "task-1"
	store.SeedHashList(&models.HashList{ID: "hl-1", ItemCount: 0, Version: 1})
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		campaign := &models.Campaign{ID: "campaign-1", HashListID: "hl-1", Priority: 1, State: models.CampaignStateActive, Version: 1}
		if err := tx.InsertCampaign(ctx, campaign); err != nil {
			return err
		}
		attack := &models.Attack{ID: attackID, CampaignID: campaign.ID, Position: 1, HashType: 0, State: models.AttackStatePending, Version: 1}
		if err := tx.InsertAttack(ctx, attack); err != nil {
			return err
		}
		task := &models.Task{ID: taskID, AttackID: attackID, KeyspaceLength: 1000, State: models.TaskStatePending, Version: 1}
		if err := tx.InsertTasks(ctx, []*models.Task{task}); err != nil {
			return err
		}
		agent := &models.Agent{
			ID:         agentID,
			State:      models.AgentStateActive,
			Benchmarks: map[int][]models.DeviceBenchmark{0: {{DeviceIndex: 0, HashSpeed: 1_000_000}}},
			Version:    1,
		}
		return tx.InsertAgent(ctx, agent, "unused-hash")
	}))
	return agentID, attackID, taskID
}

func TestRequestTaskAssignsEligiblePendingTask(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	task, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, models.TaskStateAssigned, task.State)
}

func TestRequestTaskIsIdempotentWhileAlreadyAssigned(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	first, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, taskID, second.ID)
}

func TestRequestTaskReturnsNilWhenNoCandidates(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAgent(ctx, &models.Agent{ID: "lonely-agent", State: models.AgentStateActive, Version: 1}, "unused")
	}))

	task, err := sched.RequestTask(context.Background(), "lonely-agent")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestAcceptTaskTransitionsAttackToRunning(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, attackID, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	require.NoError(t, sched.AcceptTask(context.Background(), agentID, taskID))

	var attack *models.Attack
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		attack, err = tx.GetAttack(ctx, attackID)
		return err
	}))
	assert.Equal(t, models.AttackStateRunning, attack.State)
}

func TestAcceptTaskSecondCallIsNoop(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	require.NoError(t, sched.AcceptTask(context.Background(), agentID, taskID))
	require.NoError(t, sched.AcceptTask(context.Background(), agentID, taskID))
}

func TestAcceptTaskRejectsWrongAgent(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	err = sched.AcceptTask(context.Background(), "someone-else", taskID)
	assert.True(t, corekit.Is(err, corekit.KindNotFound))
}

func TestAbandonTaskReleasesTaskAndAgent(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	result, err := sched.AbandonTask(context.Background(), agentID, taskID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.TaskStatePending, result.State)

	var agent *models.Agent
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		agent, err = tx.GetAgent(ctx, agentID)
		return err
	}))
	assert.Nil(t, agent.AssignedTaskID)
}

func TestAbandonTaskRecordsReplanAuditOnBenchmarkDeviation(t *testing.T) {
	sched, store, fake := newTestScheduler(t)
	agentID, attackID, taskID := seedCampaign(t, store)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		fast := &models.Agent{
			ID:         "agent-2",
			State:      models.AgentStateActive,
			Benchmarks: map[int][]models.DeviceBenchmark{0: {{DeviceIndex: 0, HashSpeed: 10_000_000}}},
			Version:    1,
		}
		return tx.InsertAgent(ctx, fast, "unused-hash-2")
	}))

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	_, err = sched.AbandonTask(context.Background(), agentID, taskID)
	require.NoError(t, err)

	var attack *models.Attack
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		attack, err = tx.GetAttack(ctx, attackID)
		return err
	}))
	require.NotNil(t, attack.LastReplan, "a material benchmark deviation must record the comparison on the attack")
	assert.Equal(t, agentID, attack.LastReplan.AgentID)
	assert.Equal(t, float64(1_000_000), attack.LastReplan.NewAgentSpeed)
	assert.InDelta(t, 5_500_000, attack.LastReplan.OldMedian, 0.001)
	assert.Equal(t, fake.Now(), attack.LastReplan.At)
}

func TestMarkExhaustedRollsUpAttackAndCampaign(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, attackID, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)
	require.NoError(t, sched.AcceptTask(context.Background(), agentID, taskID))
	require.NoError(t, sched.MarkExhausted(context.Background(), agentID, taskID))

	var attack *models.Attack
	var campaign *models.Campaign
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		attack, err = tx.GetAttack(ctx, attackID)
		if err != nil {
			return err
		}
		campaign, err = tx.GetCampaign(ctx, attack.CampaignID)
		return err
	}))
	assert.Equal(t, models.AttackStateExhausted, attack.State)
	assert.Equal(t, models.CampaignStateCompleted, campaign.State)
}

func TestPauseCampaignPreemptsAssignedTasks(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	require.NoError(t, sched.PauseCampaign(context.Background(), "campaign-1"))

	var task *models.Task
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		return err
	}))
	assert.Equal(t, models.TaskStatePaused, task.State)
}

func TestResumeCampaignReturnsPausedTasksToAssigned(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, _, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)
	require.NoError(t, sched.PauseCampaign(context.Background(), "campaign-1"))
	require.NoError(t, sched.ResumeCampaign(context.Background(), "campaign-1"))

	var task *models.Task
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		return err
	}))
	assert.Equal(t, models.TaskStateAssigned, task.State)
}

func TestRebalanceReturnsInFlightTasksToPendingAndReplans(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	agentID, attackID, taskID := seedCampaign(t, store)

	_, err := sched.RequestTask(context.Background(), agentID)
	require.NoError(t, err)

	require.NoError(t, sched.Rebalance(context.Background(), attackID))

	var tasks []*models.Task
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		tasks, err = tx.ListTasksByAttack(ctx, attackID)
		return err
	}))
	// The superseded row stays behind as abandoned; its interval now lives
	// in exactly one freshly sliced pending task.
	var pending []*models.Task
	var retired *models.Task
	for _, task := range tasks {
		if task.State == models.TaskStatePending {
			pending = append(pending, task)
		}
		if task.ID == taskID {
			retired = task
		}
	}
	require.Len(t, pending, 1)
	require.NotNil(t, retired)
	assert.Equal(t, models.TaskStateAbandoned, retired.State)
	assert.NotEqual(t, taskID, pending[0].ID, "replan should replace the interval with a freshly sliced task")
}

func TestReplanCollapsesConcurrentCallsForSameAttack(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	_, attackID, _ := seedCampaign(t, store)

	const concurrent = 8
	errs := make(chan error, concurrent)
	var wg sync.WaitGroup
	for range concurrent {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sched.Replan(context.Background(), attackID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var tasks []*models.Task
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		tasks, err = tx.ListTasksByAttack(ctx, attackID)
		return err
	}))
	pending := 0
	for _, task := range tasks {
		if task.State == models.TaskStatePending {
			pending++
		}
	}
	assert.Equal(t, 1, pending, "singleflight should collapse concurrent replans into one re-slice, not one per caller")
}
