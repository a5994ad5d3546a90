// Package repository defines the transactional persistence port consumed by
// every core component. Two implementations are provided: Postgres
// (production, pgx-backed) and an in-memory fake used by the component unit
// tests.
package repository

import (
	"context"
	"time"

	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
)

// Store opens transactions. Every scheduler/registrar/reconciler/ingestor
// mutation runs inside one RunInTx call; no transaction is ever held across
// an external call.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx is the full set of reads/writes available inside a transaction.
type Tx interface {
	AgentRepo
	CampaignRepo
	AttackRepo
	TaskRepo
	HashRepo
	ErrorRepo
}

// AgentRepo persists Agent rows.
type AgentRepo interface {
	InsertAgent(ctx context.Context, a *models.Agent, tokenHash string) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByTokenID(ctx context.Context, id string) (*models.Agent, string, error) // returns (agent, tokenHash)
	UpdateAgent(ctx context.Context, a *models.Agent, expectedVersion int64) error
	ListAgentsLastSeenBefore(ctx context.Context, cutoff time.Time) ([]*models.Agent, error)
	// ListActiveAgentsWithBenchmark returns active agents carrying a
	// benchmark for hashType, used by the planner to compute the median
	// hash_speed an attack should be sliced against.
	ListActiveAgentsWithBenchmark(ctx context.Context, hashType int) ([]*models.Agent, error)
}

// CampaignRepo persists Campaign rows.
type CampaignRepo interface {
	InsertCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, c *models.Campaign, expectedVersion int64) error
}

// AttackRepo persists Attack rows.
type AttackRepo interface {
	InsertAttack(ctx context.Context, a *models.Attack) error
	GetAttack(ctx context.Context, id string) (*models.Attack, error)
	UpdateAttack(ctx context.Context, a *models.Attack, expectedVersion int64) error
	ListAttacksByCampaign(ctx context.Context, campaignID string) ([]*models.Attack, error)
	// ListAttacksByStates returns attacks currently in any of the given
	// states, for Timekeeper's terminal-state rollup sweep.
	ListAttacksByStates(ctx context.Context, states ...models.AttackState) ([]*models.Attack, error)
}

// TaskRepo persists Task rows.
type TaskRepo interface {
	InsertTasks(ctx context.Context, tasks []*models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task, expectedVersion int64) error
	ListTasksByAttack(ctx context.Context, attackID string) ([]*models.Task, error)
	// ListCandidateTasks returns pending tasks eligible for agentID, ranked
	// by (Campaign.priority desc, Attack.position asc,
	// Task.keyspace_offset asc, Task.id asc).
	ListCandidateTasks(ctx context.Context, agent *models.Agent) ([]*models.Task, error)
	ListTasksByStates(ctx context.Context, states ...models.TaskState) ([]*models.Task, error)
}

// HashRepo persists HashList/HashItem/Crack rows and the zap-list log.
type HashRepo interface {
	GetHashList(ctx context.Context, id string) (*models.HashList, error)
	UpdateHashList(ctx context.Context, hl *models.HashList, expectedVersion int64) error
	FindHashItemByValue(ctx context.Context, hashListID, hashValue string) (*models.HashItem, error)
	UpdateHashItem(ctx context.Context, item *models.HashItem) error
	// ListHashItems returns every HashItem of a HashList, ordered by ID, for
	// the agent surface's get_hash_list_text operation.
	ListHashItems(ctx context.Context, hashListID string) ([]*models.HashItem, error)
	InsertCrack(ctx context.Context, c *models.Crack) error
	// AppendZap records hashValue as newly cracked for attackID and returns
	// the serial it was assigned.
	AppendZap(ctx context.Context, attackID, hashValue string) (int64, error)
	// ZapsSince returns all hash values appended to attackID's zap log with
	// serial > sinceSerial, plus the highest serial seen (for cursor advance).
	ZapsSince(ctx context.Context, attackID string, sinceSerial int64) ([]string, int64, error)
	// GetZapCursor/SetZapCursor read and advance the per-(agent, attack)
	// last-served zap serial. A never-set cursor reads 0.
	GetZapCursor(ctx context.Context, attackID, agentID string) (int64, error)
	SetZapCursor(ctx context.Context, attackID, agentID string, serial int64) error
}

// ErrorRepo persists AgentError rows.
type ErrorRepo interface {
	InsertAgentError(ctx context.Context, e *models.AgentError) error
}
