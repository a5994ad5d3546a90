// Package registry tracks agent identity, capabilities, benchmarks, and
// liveness.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/config"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

// tokenPrefix is the opaque agent bearer token prefix preserved for wire
// compatibility.
const tokenPrefix = "csa_"

// Registry implements the Agent Registry operations against a Store.
type Registry struct {
	store repository.Store
	clock clock.Clock
	ids   clock.IDGenerator
	cfg   *config.SchedulerConfig
}

// New builds a Registry.
func New(store repository.Store, c clock.Clock, ids clock.IDGenerator, cfg *config.SchedulerConfig) *Registry {
	return &Registry{store: store, clock: c, ids: ids, cfg: cfg}
}

// Authenticate resolves a bearer token of the form "csa_<agent_id>_<secret>"
// to its agent_id, verifying the secret against the stored hash.
func (r *Registry) Authenticate(ctx context.Context, token string) (string, error) {
	agentID, _, ok := splitToken(token)
	if !ok {
		return "", corekit.New(corekit.KindUnauthorized, "malformed agent token")
	}

	var resolvedID string
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, tokenHash, err := tx.GetAgentByTokenID(ctx, agentID)
		if err != nil {
			return corekit.New(corekit.KindUnauthorized, "unknown agent token")
		}
		if !verifyToken(tokenHash, token) {
			return corekit.New(corekit.KindUnauthorized, "invalid agent token")
		}
		resolvedID = agent.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return resolvedID, nil
}

// Register enrolls a new agent in the pending state and mints its bearer
// token. last_seen_at stays unset until the agent's first heartbeat.
func (r *Registry) Register(ctx context.Context, req models.RegisterAgentRequest) (agentID, token string, err error) {
	agentID = r.ids.NewID()
	secret, err := randomSecret()
	if err != nil {
		return "", "", corekit.Wrap(corekit.KindInternal, err, "failed to generate agent secret")
	}
	token = tokenPrefix + agentID + "_" + secret
	tokenHash := hashToken(token)

	agent := &models.Agent{
		ID:                   agentID,
		ClientSignature:      req.Signature,
		HostName:             req.HostName,
		OS:                   req.OS,
		Devices:              req.Devices,
		State:                models.AgentStatePending,
		Activity:             models.ActivityStarting,
		Config:               models.AgentConfiguration{UpdateIntervalSeconds: 15},
		Benchmarks:           make(map[int][]models.DeviceBenchmark),
		ExtendedHashTypeSet:  make(map[int]bool),
		Version:              1,
		CreatedAt:            r.clock.Now(),
	}

	err = r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertAgent(ctx, agent, tokenHash)
	})
	if err != nil {
		return "", "", err
	}
	return agentID, token, nil
}

// GetConfiguration returns the agent's current configuration.
func (r *Registry) GetConfiguration(ctx context.Context, agentID string) (models.AgentConfiguration, error) {
	var cfg models.AgentConfiguration
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		cfg = agent.Config
		return nil
	})
	return cfg, err
}

// GetAgent returns the agent record.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	var agent *models.Agent
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		agent = a
		return nil
	})
	return agent, err
}

// UpdateInfo applies patch to the agent, partitioned by whether the caller is
// the agent itself (agent-writable fields only) or an admin (all fields).
// Agent-writable patches may not change state or token.
func (r *Registry) UpdateInfo(ctx context.Context, agentID string, patch models.UpdateAgentPatch, asAdmin bool) (*models.Agent, error) {
	var updated *models.Agent
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}

		if patch.DisplayLabel != nil {
			agent.DisplayLabel = *patch.DisplayLabel
		}
		if patch.HostName != nil && asAdmin {
			agent.HostName = *patch.HostName
		}
		if patch.Devices != nil {
			agent.Devices = patch.Devices
		}
		if patch.Config != nil {
			agent.Config = *patch.Config
		}

		if err := tx.UpdateAgent(ctx, agent, agent.Version); err != nil {
			return err
		}
		updated = agent
		return nil
	})
	return updated, err
}

// SubmitBenchmark replaces the agent's benchmark set atomically. The first
// successful submission while pending transitions the agent to active.
func (r *Registry) SubmitBenchmark(ctx context.Context, agentID string, benchmarks map[int][]models.DeviceBenchmark) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		agent.Benchmarks = benchmarks
		if agent.State == models.AgentStatePending {
			agent.State = models.AgentStateActive
		}
		return tx.UpdateAgent(ctx, agent, agent.Version)
	})
}

// Heartbeat updates last_seen_at/activity, enforcing the 15s-minimum rate
// limit and returning any server-issued feedback.
func (r *Registry) Heartbeat(ctx context.Context, agentID string, activity models.AgentActivity) (models.HeartbeatResult, error) {
	var result models.HeartbeatResult
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}

		now := r.clock.Now()
		if !agent.LastSeenAt.IsZero() && now.Sub(agent.LastSeenAt) < r.cfg.HeartbeatMinInterval {
			return corekit.ErrTooManyRequests
		}

		agent.LastSeenAt = now
		if activity != "" {
			agent.Activity = activity
		}

		switch agent.State {
		case models.AgentStatePending:
			result.Feedback = models.FeedbackPending
		case models.AgentStateStopped:
			result.Feedback = models.FeedbackStopped
		case models.AgentStateError:
			result.Feedback = models.FeedbackError
		default:
			result.Feedback = models.FeedbackNone
		}

		return tx.UpdateAgent(ctx, agent, agent.Version)
	})
	return result, err
}

// SubmitError persists an AgentError report. A fatal severity transitions
// the agent to error and releases any held task.
func (r *Registry) SubmitError(ctx context.Context, agentID string, req models.SubmitErrorRequest) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}

		agentErr := &models.AgentError{
			ID:        r.ids.NewID(),
			AgentID:   agentID,
			Severity:  req.Severity,
			TaskID:    req.TaskID,
			Message:   req.Message,
			Metadata:  req.Metadata,
			CreatedAt: r.clock.Now(),
		}
		if err := tx.InsertAgentError(ctx, agentErr); err != nil {
			return err
		}

		if req.Severity == models.SeverityFatal {
			agent.State = models.AgentStateError
			if err := r.releaseHeldTask(ctx, tx, agent); err != nil {
				return err
			}
			return tx.UpdateAgent(ctx, agent, agent.Version)
		}
		return nil
	})
}

// Shutdown transitions the agent to offline and releases any held task.
func (r *Registry) Shutdown(ctx context.Context, agentID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		agent.State = models.AgentStateOffline
		if err := r.releaseHeldTask(ctx, tx, agent); err != nil {
			return err
		}
		return tx.UpdateAgent(ctx, agent, agent.Version)
	})
}

// releaseHeldTask clears the agent's assignment and returns its task (if any)
// to pending, mirroring the release half of abandon_task without the replan
// trigger, which is §4.4 Scheduler's concern.
func (r *Registry) releaseHeldTask(ctx context.Context, tx repository.Tx, agent *models.Agent) error {
	if agent.AssignedTaskID == nil {
		return nil
	}
	task, err := tx.GetTask(ctx, *agent.AssignedTaskID)
	if err != nil {
		if corekit.Is(err, corekit.KindNotFound) {
			agent.AssignedTaskID = nil
			return nil
		}
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
	return nil
}

func splitToken(token string) (agentID, secret string, ok bool) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(token, tokenPrefix)
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func verifyToken(storedHash, token string) bool {
	candidate := hashToken(token)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidate)) == 1
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
