package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/planner"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/scheduler"
)

func newTestCatalog(t *testing.T) (*Catalog, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.DefaultSchedulerConfig()
	sched := scheduler.New(store, fake, &clock.SequentialGenerator{Prefix: "task"}, cfg, planner.New(cfg), events.NoopEmitter{})
	return New(store, fake, &clock.SequentialGenerator{Prefix: "cat"}, sched), store
}

func TestCreateCampaignStartsInDraft(t *testing.T) {
	cat, _ := newTestCatalog(t)
	campaign, err := cat.CreateCampaign(context.Background(), models.CreateCampaignRequest{
		ProjectID: "proj-1", Name: "test campaign", HashListID: "hl-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStateDraft, campaign.State)
}

func TestCreateAttackAssignsSequentialPosition(t *testing.T) {
	cat, _ := newTestCatalog(t)
	campaign, err := cat.CreateCampaign(context.Background(), models.CreateCampaignRequest{ProjectID: "proj-1", Name: "c", HashListID: "hl-1"})
	require.NoError(t, err)

	first, err := cat.CreateAttack(context.Background(), campaign.ID, models.CreateAttackRequest{Mode: models.ModeDictionary, HashType: 0}, 1000, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)

	second, err := cat.CreateAttack(context.Background(), campaign.ID, models.CreateAttackRequest{Mode: models.ModeMask, HashType: 0}, 2000, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)
}

func TestStartCampaignPlansPendingAttacksAndActivates(t *testing.T) {
	cat, store := newTestCatalog(t)
	campaign, err := cat.CreateCampaign(context.Background(), models.CreateCampaignRequest{ProjectID: "proj-1", Name: "c", HashListID: "hl-1"})
	require.NoError(t, err)
	attack, err := cat.CreateAttack(context.Background(), campaign.ID, models.CreateAttackRequest{Mode: models.ModeDictionary, HashType: 0}, 10_000_000, 1.0)
	require.NoError(t, err)

	require.NoError(t, cat.StartCampaign(context.Background(), campaign.ID))

	updated, err := cat.GetCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStateActive, updated.State)

	var tasks []*models.Task
	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		tasks, err = tx.ListTasksByAttack(ctx, attack.ID)
		return err
	}))
	assert.NotEmpty(t, tasks)
}

func TestStartCampaignExhaustsZeroKeyspaceAttackImmediately(t *testing.T) {
	cat, store := newTestCatalog(t)
	store.SeedHashList(&models.HashList{ID: "hl-1", ItemCount: 1, Version: 1})
	campaign, err := cat.CreateCampaign(context.Background(), models.CreateCampaignRequest{ProjectID: "proj-1", Name: "c", HashListID: "hl-1"})
	require.NoError(t, err)
	attack, err := cat.CreateAttack(context.Background(), campaign.ID, models.CreateAttackRequest{Mode: models.ModeDictionary, HashType: 0}, 0, 0)
	require.NoError(t, err)

	require.NoError(t, cat.StartCampaign(context.Background(), campaign.ID))

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.GetAttack(ctx, attack.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, models.AttackStateExhausted, a.State)
		tasks, err := tx.ListTasksByAttack(ctx, a.ID)
		if err != nil {
			return err
		}
		assert.Empty(t, tasks)
		return nil
	}))
}

func TestStartCampaignRejectsNonDraft(t *testing.T) {
	cat, _ := newTestCatalog(t)
	campaign, err := cat.CreateCampaign(context.Background(), models.CreateCampaignRequest{ProjectID: "proj-1", Name: "c", HashListID: "hl-1"})
	require.NoError(t, err)
	require.NoError(t, cat.StartCampaign(context.Background(), campaign.ID))

	err = cat.StartCampaign(context.Background(), campaign.ID)
	assert.Error(t, err)
}
