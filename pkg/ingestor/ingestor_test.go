package ingestor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

func TestCanonicalizeLowercasesHex(t *testing.T) {
	assert.Equal(t, "deadbeef", Canonicalize(0, "DeadBeef"))
}

func TestCanonicalizeStripsNTLMUserPrefix(t *testing.T) {
	assert.Equal(t, "aabbccdd", Canonicalize(hashTypeNTLM, `CORP\jdoe:1001:AABBCCDD`))
}

func seedIngestorFixture(t *testing.T) (store *repository.Memory, agentID, taskID, hashValue string) {
	t.Helper()
	store = repository.NewMemory()
	agentID, taskID, hashValue = "agent-1", "task-1", "deadbeefdeadbeefdeadbeefdeadbeef"

	hashListID := "hl-1"
	store.SeedHashItem(
		&models.HashList{ID: hashListID, ItemCount: 2, CrackedCount: 0, Version: 1},
		&models.HashItem{ID: "item-1", HashListID: hashListID, HashValue: hashValue},
	)
	store.SeedHashItem(
		&models.HashList{ID: hashListID, ItemCount: 2, CrackedCount: 0, Version: 1},
		&models.HashItem{ID: "item-2", HashListID: hashListID, HashValue: "other"},
	)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		campaign := &models.Campaign{ID: "campaign-1", HashListID: hashListID, State: models.CampaignStateActive, Version: 1}
		if err := tx.InsertCampaign(ctx, campaign); err != nil {
			return err
		}
		attack := &models.Attack{ID: "attack-1", CampaignID: campaign.ID, HashType: 0, State: models.AttackStateRunning, Version: 1}
		if err := tx.InsertAttack(ctx, attack); err != nil {
			return err
		}
		task := &models.Task{ID: taskID, AttackID: attack.ID, KeyspaceLength: 100, State: models.TaskStateRunning, AssignedAgentID: &agentID, Version: 1}
		return tx.InsertTasks(ctx, []*models.Task{task})
	}))
	return store, agentID, taskID, hashValue
}

func TestSubmitCrackMoreRemain(t *testing.T) {
	store, agentID, taskID, hashValue := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	// Uppercase on the wire; canonicalization must still find the item.
	outcome, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: strings.ToUpper(hashValue), Plaintext: "hunter2", Timestamp: fake.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.CrackOutcomeMoreRemain, outcome)
}

func TestSubmitCrackListComplete(t *testing.T) {
	store, agentID, taskID, _ := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	_, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: "deadbeefdeadbeefdeadbeefdeadbeef", Plaintext: "hunter2", Timestamp: fake.Now(),
	})
	require.NoError(t, err)

	outcome, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: "other", Plaintext: "letmein", Timestamp: fake.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.CrackOutcomeListComplete, outcome)
}

func TestSubmitCrackAlreadyCrackedIsIdempotent(t *testing.T) {
	store, agentID, taskID, _ := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	req := models.SubmitCrackRequest{HashValue: "deadbeefdeadbeefdeadbeefdeadbeef", Plaintext: "hunter2", Timestamp: fake.Now()}
	_, err := ing.SubmitCrack(context.Background(), agentID, taskID, req)
	require.NoError(t, err)

	outcome, err := ing.SubmitCrack(context.Background(), agentID, taskID, req)
	require.NoError(t, err)
	assert.Equal(t, models.CrackOutcomeAlreadyCracked, outcome)
}

func TestSubmitCrackHashNotInList(t *testing.T) {
	store, agentID, taskID, _ := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	outcome, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: "neverseen", Plaintext: "x", Timestamp: fake.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.CrackOutcomeHashNotInList, outcome)
}

func TestSubmitCrackRetryServesCachedOutcomeWithoutTouchingStore(t *testing.T) {
	store, agentID, taskID, _ := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	req := models.SubmitCrackRequest{HashValue: "deadbeefdeadbeefdeadbeefdeadbeef", Plaintext: "hunter2", Timestamp: fake.Now()}
	first, err := ing.SubmitCrack(context.Background(), agentID, taskID, req)
	require.NoError(t, err)
	assert.Equal(t, models.CrackOutcomeMoreRemain, first)

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		task.State = models.TaskStateAbandoned
		task.AssignedAgentID = nil
		return tx.UpdateTask(ctx, task, task.Version)
	}))

	retry, err := ing.SubmitCrack(context.Background(), agentID, taskID, req)
	require.NoError(t, err, "a cache hit must bypass the ownership check against the now-unassigned task")
	assert.Equal(t, models.CrackOutcomeAlreadyCracked, retry)
}

func TestSubmitCrackCacheExpiresAfterTTL(t *testing.T) {
	store, agentID, taskID, _ := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	req := models.SubmitCrackRequest{HashValue: "deadbeefdeadbeefdeadbeefdeadbeef", Plaintext: "hunter2", Timestamp: fake.Now()}
	_, err := ing.SubmitCrack(context.Background(), agentID, taskID, req)
	require.NoError(t, err)

	fake.Advance(idempotencyTTL + time.Second)

	outcome, err := ing.SubmitCrack(context.Background(), agentID, taskID, req)
	require.NoError(t, err)
	assert.Equal(t, models.CrackOutcomeAlreadyCracked, outcome, "an expired cache entry must fall through to the transactional path")
}

func TestGetZapsAdvancesCursorPerAgent(t *testing.T) {
	store, agentID, taskID, _ := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	_, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: "deadbeefdeadbeefdeadbeefdeadbeef", Plaintext: "hunter2", Timestamp: fake.Now(),
	})
	require.NoError(t, err)

	zaps, err := ing.GetZaps(context.Background(), agentID, taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"deadbeefdeadbeefdeadbeefdeadbeef"}, zaps)

	zaps, err = ing.GetZaps(context.Background(), agentID, taskID)
	require.NoError(t, err)
	assert.Empty(t, zaps, "cursor should have advanced past the already-served zap")
}

func TestGetZapsCursorFollowsAgentAcrossTasksOfAnAttack(t *testing.T) {
	store, agentID, taskID, hashValue := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	otherAgent := "agent-2"
	otherTask := "task-2"
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		task := &models.Task{ID: otherTask, AttackID: "attack-1", KeyspaceOffset: 100, KeyspaceLength: 100, State: models.TaskStateRunning, AssignedAgentID: &otherAgent, Version: 1}
		return tx.InsertTasks(ctx, []*models.Task{task})
	}))

	_, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: hashValue, Plaintext: "hunter2", Timestamp: fake.Now(),
	})
	require.NoError(t, err)

	// The other agent sees the crack once through its own task, then never
	// again, even after it picks up a different task of the same attack.
	zaps, err := ing.GetZaps(context.Background(), otherAgent, otherTask)
	require.NoError(t, err)
	assert.Equal(t, []string{hashValue}, zaps)

	replannedTask := "task-3"
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, otherTask)
		if err != nil {
			return err
		}
		task.State = models.TaskStateAbandoned
		task.AssignedAgentID = nil
		if err := tx.UpdateTask(ctx, task, task.Version); err != nil {
			return err
		}
		fresh := &models.Task{ID: replannedTask, AttackID: "attack-1", KeyspaceOffset: 100, KeyspaceLength: 100, State: models.TaskStateRunning, AssignedAgentID: &otherAgent, Version: 1}
		return tx.InsertTasks(ctx, []*models.Task{fresh})
	}))

	zaps, err = ing.GetZaps(context.Background(), otherAgent, replannedTask)
	require.NoError(t, err)
	assert.Empty(t, zaps, "the per-agent cursor belongs to the attack, not the task")
}

func TestGetZapsRejectsNonOwner(t *testing.T) {
	store, agentID, taskID, hashValue := seedIngestorFixture(t)
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ing := New(store, fake, events.NoopEmitter{})

	_, err := ing.SubmitCrack(context.Background(), agentID, taskID, models.SubmitCrackRequest{
		HashValue: hashValue, Plaintext: "hunter2", Timestamp: fake.Now(),
	})
	require.NoError(t, err)

	_, err = ing.GetZaps(context.Background(), "interloper", taskID)
	assert.Error(t, err)
}
