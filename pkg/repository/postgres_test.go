package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/database"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

// newTestStore spins up a throwaway PostgreSQL container, applies the
// embedded migrations through database.NewClient, and returns a ready Store.
// Skipped when no container runtime is available.
func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("cipherswarm_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("could not start postgres container (no container runtime?): %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		Database: "cipherswarm_test",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return repository.NewPostgres(client.Pool)
}

func TestPostgresAgentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{
		ID:              "agent-1",
		DisplayLabel:    "worker one",
		HostName:        "worker-1",
		OS:              "linux",
		ClientSignature: "hashcat-6.2.6",
		Devices:         []models.Device{{Index: 0, Name: "RTX 4090", Kind: "gpu", Enabled: true}},
		State:           models.AgentStatePending,
		Activity:        models.ActivityStarting,
		Config:          models.AgentConfiguration{UpdateIntervalSeconds: 15},
		LastSeenAt:      time.Now().UTC().Truncate(time.Microsecond),
		Benchmarks:      map[int][]models.DeviceBenchmark{0: {{DeviceIndex: 0, HashSpeed: 1e6}}},
		Version:         1,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAgent(ctx, agent, "token-hash")
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.GetAgent(ctx, "agent-1")
		if err != nil {
			return err
		}
		assert.Equal(t, agent.HostName, got.HostName)
		assert.Equal(t, agent.Devices, got.Devices)
		assert.Equal(t, agent.Benchmarks, got.Benchmarks)
		assert.Equal(t, models.AgentStatePending, got.State)

		_, tokenHash, err := tx.GetAgentByTokenID(ctx, "agent-1")
		if err != nil {
			return err
		}
		assert.Equal(t, "token-hash", tokenHash)
		return nil
	}))
}

func TestPostgresOptimisticVersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertCampaign(ctx, &models.Campaign{
			ID: "campaign-1", ProjectID: "p", Name: "c", HashListID: "hl-1",
			State: models.CampaignStateDraft, Version: 1,
		})
	}))

	err := store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		campaign, err := tx.GetCampaign(ctx, "campaign-1")
		if err != nil {
			return err
		}
		campaign.State = models.CampaignStateActive
		// A stale expected version must be rejected as a retryable conflict.
		return tx.UpdateCampaign(ctx, campaign, campaign.Version+1)
	})
	assert.True(t, corekit.Is(err, corekit.KindConflict))
}

func TestPostgresZapLogAndCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertCampaign(ctx, &models.Campaign{
			ID: "campaign-1", ProjectID: "p", Name: "c", HashListID: "hl-1",
			State: models.CampaignStateActive, Version: 1,
		}); err != nil {
			return err
		}
		return tx.InsertAttack(ctx, &models.Attack{
			ID: "attack-1", CampaignID: "campaign-1", Position: 1,
			Mode: models.ModeDictionary, State: models.AttackStateRunning, Version: 1,
		})
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		first, err := tx.AppendZap(ctx, "attack-1", "aaaa")
		if err != nil {
			return err
		}
		second, err := tx.AppendZap(ctx, "attack-1", "bbbb")
		if err != nil {
			return err
		}
		assert.Equal(t, first+1, second)
		return nil
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		values, newest, err := tx.ZapsSince(ctx, "attack-1", 0)
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"aaaa", "bbbb"}, values)
		return tx.SetZapCursor(ctx, "attack-1", "agent-1", newest)
	}))

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cursor, err := tx.GetZapCursor(ctx, "attack-1", "agent-1")
		if err != nil {
			return err
		}
		values, _, err := tx.ZapsSince(ctx, "attack-1", cursor)
		if err != nil {
			return err
		}
		assert.Empty(t, values)
		return nil
	}))
}
