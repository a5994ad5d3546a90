package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
)

// Postgres is the production Store implementation, backed by a pgx pool.
// Every RunInTx call opens one transaction and commits or rolls it back
// atomically.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already-connected pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool. The pool's lifecycle is normally owned
// by pkg/database.Client; Close is provided so Postgres satisfies Store on
// its own in tests that construct a pool directly.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// RunInTx runs fn inside a single serializable-enough (read committed,
// row-locked where needed) transaction, committing on success and rolling
// back on any error or panic.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgxTx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = pgxTx.Rollback(ctx) }()

	txn := &pgTx{tx: pgxTx}
	if err := fn(ctx, txn); err != nil {
		return err
	}

	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx implements Tx against a single pgx.Tx.
type pgTx struct {
	tx pgx.Tx
}

// --- AgentRepo ---

func (t *pgTx) InsertAgent(ctx context.Context, a *models.Agent, tokenHash string) error {
	devices, err := json.Marshal(a.Devices)
	if err != nil {
		return fmt.Errorf("failed to marshal devices: %w", err)
	}
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	benchmarks, err := json.Marshal(a.Benchmarks)
	if err != nil {
		return fmt.Errorf("failed to marshal benchmarks: %w", err)
	}
	extended, err := json.Marshal(extendedHashTypesToSlice(a.ExtendedHashTypeSet))
	if err != nil {
		return fmt.Errorf("failed to marshal extended hash types: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO agents (
			id, display_label, host_name, os, client_signature, devices, state,
			activity, config, last_seen_at, last_ip, assigned_task_id, benchmarks,
			extended_hash_types, token_hash, version, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		a.ID, a.DisplayLabel, a.HostName, a.OS, a.ClientSignature, devices, a.State,
		a.Activity, config, nullTime(a.LastSeenAt), a.LastIP, a.AssignedTaskID, benchmarks,
		extended, tokenHash, a.Version, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

func (t *pgTx) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := t.tx.QueryRow(ctx, agentSelectSQL+" WHERE id = $1", id)
	return scanAgent(row)
}

func (t *pgTx) GetAgentByTokenID(ctx context.Context, id string) (*models.Agent, string, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, display_label, host_name, os, client_signature, devices, state,
		       activity, config, last_seen_at, last_ip, assigned_task_id, benchmarks,
		       extended_hash_types, version, created_at, token_hash
		FROM agents WHERE id = $1
	`, id)
	var (
		a          models.Agent
		devices    []byte
		config     []byte
		benchmarks []byte
		extended   []byte
		lastSeenAt *time.Time
		tokenHash  string
	)
	err := row.Scan(
		&a.ID, &a.DisplayLabel, &a.HostName, &a.OS, &a.ClientSignature, &devices, &a.State,
		&a.Activity, &config, &lastSeenAt, &a.LastIP, &a.AssignedTaskID, &benchmarks,
		&extended, &a.Version, &a.CreatedAt, &tokenHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", corekit.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to query agent by id: %w", err)
	}
	if err := unmarshalAgentJSON(&a, devices, config, benchmarks, extended, lastSeenAt); err != nil {
		return nil, "", err
	}
	return &a, tokenHash, nil
}

func (t *pgTx) UpdateAgent(ctx context.Context, a *models.Agent, expectedVersion int64) error {
	devices, err := json.Marshal(a.Devices)
	if err != nil {
		return fmt.Errorf("failed to marshal devices: %w", err)
	}
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	benchmarks, err := json.Marshal(a.Benchmarks)
	if err != nil {
		return fmt.Errorf("failed to marshal benchmarks: %w", err)
	}
	extended, err := json.Marshal(extendedHashTypesToSlice(a.ExtendedHashTypeSet))
	if err != nil {
		return fmt.Errorf("failed to marshal extended hash types: %w", err)
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE agents SET
			display_label = $1, host_name = $2, os = $3, client_signature = $4,
			devices = $5, state = $6, activity = $7, config = $8, last_seen_at = $9,
			last_ip = $10, assigned_task_id = $11, benchmarks = $12,
			extended_hash_types = $13, version = version + 1
		WHERE id = $14 AND version = $15
	`,
		a.DisplayLabel, a.HostName, a.OS, a.ClientSignature, devices, a.State,
		a.Activity, config, nullTime(a.LastSeenAt), a.LastIP, a.AssignedTaskID, benchmarks,
		extended, a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConcurrentModification
	}
	a.Version = expectedVersion + 1
	return nil
}

func (t *pgTx) ListAgentsLastSeenBefore(ctx context.Context, cutoff time.Time) ([]*models.Agent, error) {
	rows, err := t.tx.Query(ctx, agentSelectSQL+" WHERE last_seen_at < $1 AND state NOT IN ('stopped','offline')", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (t *pgTx) ListActiveAgentsWithBenchmark(ctx context.Context, hashType int) ([]*models.Agent, error) {
	rows, err := t.tx.Query(ctx, agentSelectSQL+`
		WHERE state = 'active' AND benchmarks ? $1
	`, fmt.Sprintf("%d", hashType))
	if err != nil {
		return nil, fmt.Errorf("failed to query benchmarked agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

const agentSelectSQL = `
	SELECT id, display_label, host_name, os, client_signature, devices, state,
	       activity, config, last_seen_at, last_ip, assigned_task_id, benchmarks,
	       extended_hash_types, version, created_at
	FROM agents
`

type scannable interface {
	Scan(dest ...any) error
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	return scanAgentRows(row)
}

func scanAgentRows(row scannable) (*models.Agent, error) {
	var (
		a          models.Agent
		devices    []byte
		config     []byte
		benchmarks []byte
		extended   []byte
		lastSeenAt *time.Time
	)
	err := row.Scan(
		&a.ID, &a.DisplayLabel, &a.HostName, &a.OS, &a.ClientSignature, &devices, &a.State,
		&a.Activity, &config, &lastSeenAt, &a.LastIP, &a.AssignedTaskID, &benchmarks,
		&extended, &a.Version, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corekit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	if err := unmarshalAgentJSON(&a, devices, config, benchmarks, extended, lastSeenAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func unmarshalAgentJSON(a *models.Agent, devices, config, benchmarks, extended []byte, lastSeenAt *time.Time) error {
	if err := json.Unmarshal(devices, &a.Devices); err != nil {
		return fmt.Errorf("failed to unmarshal devices: %w", err)
	}
	if err := json.Unmarshal(config, &a.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(benchmarks) > 0 {
		if err := json.Unmarshal(benchmarks, &a.Benchmarks); err != nil {
			return fmt.Errorf("failed to unmarshal benchmarks: %w", err)
		}
	}
	var extendedSlice []int
	if len(extended) > 0 {
		if err := json.Unmarshal(extended, &extendedSlice); err != nil {
			return fmt.Errorf("failed to unmarshal extended hash types: %w", err)
		}
	}
	a.ExtendedHashTypeSet = make(map[int]bool, len(extendedSlice))
	for _, ht := range extendedSlice {
		a.ExtendedHashTypeSet[ht] = true
	}
	if lastSeenAt != nil {
		a.LastSeenAt = *lastSeenAt
	}
	return nil
}

func extendedHashTypesToSlice(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for ht, on := range set {
		if on {
			out = append(out, ht)
		}
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// --- CampaignRepo ---

func (t *pgTx) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO campaigns (id, project_id, name, description, priority, hash_list_id, state, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.ProjectID, c.Name, c.Description, c.Priority, c.HashListID, c.State, c.Version)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}
	return nil
}

func (t *pgTx) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := t.tx.QueryRow(ctx, `
		SELECT id, project_id, name, description, priority, hash_list_id, state, version
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.Priority, &c.HashListID, &c.State, &c.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corekit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query campaign: %w", err)
	}
	return &c, nil
}

func (t *pgTx) UpdateCampaign(ctx context.Context, c *models.Campaign, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE campaigns SET name = $1, description = $2, priority = $3, state = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`, c.Name, c.Description, c.Priority, c.State, c.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConcurrentModification
	}
	c.Version = expectedVersion + 1
	return nil
}

// --- AttackRepo ---

func (t *pgTx) InsertAttack(ctx context.Context, a *models.Attack) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal attack configuration: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO attacks (
			id, campaign_id, position, mode, configuration, hash_type,
			total_keyspace, complexity_score, state, zap_serial, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ID, a.CampaignID, a.Position, a.Mode, config, a.HashType,
		int64(a.TotalKeyspace), a.ComplexityScore, a.State, a.ZapSerial, a.Version)
	if err != nil {
		return fmt.Errorf("failed to insert attack: %w", err)
	}
	return nil
}

const attackSelectSQL = `
	SELECT id, campaign_id, position, mode, configuration, hash_type,
	       total_keyspace, complexity_score, state, zap_serial, version, replan_audit
	FROM attacks
`

func (t *pgTx) GetAttack(ctx context.Context, id string) (*models.Attack, error) {
	row := t.tx.QueryRow(ctx, attackSelectSQL+" WHERE id = $1", id)
	return scanAttack(row)
}

func (t *pgTx) UpdateAttack(ctx context.Context, a *models.Attack, expectedVersion int64) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal attack configuration: %w", err)
	}
	var replanAudit []byte
	if a.LastReplan != nil {
		replanAudit, err = json.Marshal(a.LastReplan)
		if err != nil {
			return fmt.Errorf("failed to marshal replan audit: %w", err)
		}
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE attacks SET configuration = $1, total_keyspace = $2, complexity_score = $3,
			state = $4, zap_serial = $5, replan_audit = $6, version = version + 1
		WHERE id = $7 AND version = $8
	`, config, int64(a.TotalKeyspace), a.ComplexityScore, a.State, a.ZapSerial, replanAudit, a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update attack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConcurrentModification
	}
	a.Version = expectedVersion + 1
	return nil
}

func (t *pgTx) ListAttacksByCampaign(ctx context.Context, campaignID string) ([]*models.Attack, error) {
	rows, err := t.tx.Query(ctx, attackSelectSQL+" WHERE campaign_id = $1 ORDER BY position ASC", campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attacks by campaign: %w", err)
	}
	defer rows.Close()

	var attacks []*models.Attack
	for rows.Next() {
		a, err := scanAttackRows(rows)
		if err != nil {
			return nil, err
		}
		attacks = append(attacks, a)
	}
	return attacks, rows.Err()
}

func (t *pgTx) ListAttacksByStates(ctx context.Context, states ...models.AttackState) ([]*models.Attack, error) {
	if len(states) == 0 {
		return nil, nil
	}
	stateStrings := make([]string, len(states))
	for i, s := range states {
		stateStrings[i] = string(s)
	}
	rows, err := t.tx.Query(ctx, attackSelectSQL+" WHERE state = ANY($1) ORDER BY id", stateStrings)
	if err != nil {
		return nil, fmt.Errorf("failed to query attacks by state: %w", err)
	}
	defer rows.Close()

	var attacks []*models.Attack
	for rows.Next() {
		a, err := scanAttackRows(rows)
		if err != nil {
			return nil, err
		}
		attacks = append(attacks, a)
	}
	return attacks, rows.Err()
}

func scanAttack(row pgx.Row) (*models.Attack, error) {
	return scanAttackRows(row)
}

func scanAttackRows(row scannable) (*models.Attack, error) {
	var (
		a             models.Attack
		config        []byte
		totalKeyspace int64
		replanAudit   []byte
	)
	err := row.Scan(&a.ID, &a.CampaignID, &a.Position, &a.Mode, &config, &a.HashType,
		&totalKeyspace, &a.ComplexityScore, &a.State, &a.ZapSerial, &a.Version, &replanAudit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corekit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan attack: %w", err)
	}
	if err := json.Unmarshal(config, &a.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attack configuration: %w", err)
	}
	a.TotalKeyspace = uint64(totalKeyspace)
	if replanAudit != nil {
		a.LastReplan = &models.ReplanAudit{}
		if err := json.Unmarshal(replanAudit, a.LastReplan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal replan audit: %w", err)
		}
	}
	return &a, nil
}

// --- TaskRepo ---

func (t *pgTx) InsertTasks(ctx context.Context, tasks []*models.Task) error {
	for _, task := range tasks {
		deviceSpeeds, err := json.Marshal(task.DeviceSpeeds)
		if err != nil {
			return fmt.Errorf("failed to marshal device speeds: %w", err)
		}
		_, err = t.tx.Exec(ctx, `
			INSERT INTO tasks (
				id, attack_id, keyspace_offset, keyspace_length, state,
				assigned_agent_id, assigned_at, accepted_at, last_status_at,
				progress_offset, rejected_count, device_speeds, eta_seconds, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`,
			task.ID, task.AttackID, int64(task.KeyspaceOffset), int64(task.KeyspaceLength), task.State,
			task.AssignedAgentID, task.AssignedAt, task.AcceptedAt, task.LastStatusAt,
			int64(task.ProgressOffset), int64(task.RejectedCount), deviceSpeeds, task.ETASeconds,
			task.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
	}
	return nil
}

const taskSelectSQL = `
	SELECT id, attack_id, keyspace_offset, keyspace_length, state,
	       assigned_agent_id, assigned_at, accepted_at, last_status_at,
	       progress_offset, rejected_count, device_speeds, eta_seconds, version
	FROM tasks
`

func (t *pgTx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := t.tx.QueryRow(ctx, taskSelectSQL+" WHERE id = $1", id)
	return scanTask(row)
}

func (t *pgTx) UpdateTask(ctx context.Context, task *models.Task, expectedVersion int64) error {
	deviceSpeeds, err := json.Marshal(task.DeviceSpeeds)
	if err != nil {
		return fmt.Errorf("failed to marshal device speeds: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks SET state = $1, assigned_agent_id = $2, assigned_at = $3,
			accepted_at = $4, last_status_at = $5, progress_offset = $6,
			rejected_count = $7, device_speeds = $8, eta_seconds = $9,
			version = version + 1
		WHERE id = $10 AND version = $11
	`,
		task.State, task.AssignedAgentID, task.AssignedAt, task.AcceptedAt, task.LastStatusAt,
		int64(task.ProgressOffset), int64(task.RejectedCount), deviceSpeeds, task.ETASeconds,
		task.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConcurrentModification
	}
	task.Version = expectedVersion + 1
	return nil
}

func (t *pgTx) ListTasksByAttack(ctx context.Context, attackID string) ([]*models.Task, error) {
	rows, err := t.tx.Query(ctx, taskSelectSQL+" WHERE attack_id = $1 ORDER BY keyspace_offset ASC", attackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by attack: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (t *pgTx) ListTasksByStates(ctx context.Context, states ...models.TaskState) ([]*models.Task, error) {
	if len(states) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, taskSelectSQL+" WHERE state = ANY($1)", statesToStrings(states))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by state: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListCandidateTasks claims nothing by itself; it returns pending tasks the
// agent is eligible for, in scheduling rank order, using FOR UPDATE
// SKIP LOCKED so concurrent schedulers never rank the same row twice.
func (t *pgTx) ListCandidateTasks(ctx context.Context, agent *models.Agent) ([]*models.Task, error) {
	eligible := agentHashTypes(agent)
	if len(eligible) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT tk.id, tk.attack_id, tk.keyspace_offset, tk.keyspace_length, tk.state,
		       tk.assigned_agent_id, tk.assigned_at, tk.accepted_at, tk.last_status_at,
		       tk.progress_offset, tk.rejected_count, tk.device_speeds, tk.eta_seconds,
		       tk.version
		FROM tasks tk
		JOIN attacks a ON a.id = tk.attack_id
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE tk.state = 'pending'
		  AND a.state IN ('pending', 'running')
		  AND c.state = 'active'
		  AND a.hash_type = ANY($1)
		ORDER BY c.priority DESC, a.position ASC, tk.keyspace_offset ASC, tk.id ASC
		FOR UPDATE OF tk SKIP LOCKED
	`, eligible)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// agentHashTypes is the full eligibility set for the candidate query: every
// benchmarked hash_type plus the agent's extended-hash-type opt-ins.
func agentHashTypes(agent *models.Agent) []int {
	seen := make(map[int]bool, len(agent.Benchmarks)+len(agent.ExtendedHashTypeSet))
	var out []int
	for ht := range agent.Benchmarks {
		if !seen[ht] {
			seen[ht] = true
			out = append(out, ht)
		}
	}
	for ht, on := range agent.ExtendedHashTypeSet {
		if on && !seen[ht] {
			seen[ht] = true
			out = append(out, ht)
		}
	}
	return out
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row scannable) (*models.Task, error) {
	var (
		task                           models.Task
		keyspaceOffset, keyspaceLength int64
		progressOffset, rejectedCount  int64
		deviceSpeeds                   []byte
	)
	err := row.Scan(
		&task.ID, &task.AttackID, &keyspaceOffset, &keyspaceLength, &task.State,
		&task.AssignedAgentID, &task.AssignedAt, &task.AcceptedAt, &task.LastStatusAt,
		&progressOffset, &rejectedCount, &deviceSpeeds, &task.ETASeconds,
		&task.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corekit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	task.KeyspaceOffset = uint64(keyspaceOffset)
	task.KeyspaceLength = uint64(keyspaceLength)
	task.ProgressOffset = uint64(progressOffset)
	task.RejectedCount = uint64(rejectedCount)
	if len(deviceSpeeds) > 0 {
		if err := json.Unmarshal(deviceSpeeds, &task.DeviceSpeeds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device speeds: %w", err)
		}
	}
	return &task, nil
}

func statesToStrings(states []models.TaskState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// --- HashRepo ---

func (t *pgTx) GetHashList(ctx context.Context, id string) (*models.HashList, error) {
	var hl models.HashList
	err := t.tx.QueryRow(ctx, `
		SELECT id, project_id, hash_type, item_count, cracked_count, version
		FROM hash_lists WHERE id = $1
	`, id).Scan(&hl.ID, &hl.ProjectID, &hl.HashType, &hl.ItemCount, &hl.CrackedCount, &hl.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corekit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query hash list: %w", err)
	}
	return &hl, nil
}

func (t *pgTx) UpdateHashList(ctx context.Context, hl *models.HashList, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE hash_lists SET cracked_count = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`, hl.CrackedCount, hl.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update hash list: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConcurrentModification
	}
	hl.Version = expectedVersion + 1
	return nil
}

func (t *pgTx) FindHashItemByValue(ctx context.Context, hashListID, hashValue string) (*models.HashItem, error) {
	var item models.HashItem
	err := t.tx.QueryRow(ctx, `
		SELECT id, hash_list_id, hash_value, salt, cracked, plaintext, cracked_at, cracked_by_task_id
		FROM hash_items WHERE hash_list_id = $1 AND hash_value = $2
		FOR UPDATE
	`, hashListID, hashValue).Scan(
		&item.ID, &item.HashListID, &item.HashValue, &item.Salt, &item.Cracked,
		&item.Plaintext, &item.CrackedAt, &item.CrackedByTaskID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corekit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query hash item: %w", err)
	}
	return &item, nil
}

func (t *pgTx) ListHashItems(ctx context.Context, hashListID string) ([]*models.HashItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, hash_list_id, hash_value, salt, cracked, plaintext, cracked_at, cracked_by_task_id
		FROM hash_items WHERE hash_list_id = $1 ORDER BY id
	`, hashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hash items: %w", err)
	}
	defer rows.Close()

	var out []*models.HashItem
	for rows.Next() {
		var item models.HashItem
		if err := rows.Scan(
			&item.ID, &item.HashListID, &item.HashValue, &item.Salt, &item.Cracked,
			&item.Plaintext, &item.CrackedAt, &item.CrackedByTaskID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hash item: %w", err)
		}
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hash items: %w", err)
	}
	return out, nil
}

func (t *pgTx) UpdateHashItem(ctx context.Context, item *models.HashItem) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE hash_items SET cracked = $1, plaintext = $2, cracked_at = $3, cracked_by_task_id = $4
		WHERE id = $5 AND cracked = FALSE
	`, item.Cracked, item.Plaintext, item.CrackedAt, item.CrackedByTaskID, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update hash item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConflict
	}
	return nil
}

func (t *pgTx) InsertCrack(ctx context.Context, c *models.Crack) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO cracks (task_id, hash_item_id, hash_list_id, plaintext, "timestamp", serial)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (hash_list_id, hash_item_id) DO NOTHING
	`, c.TaskID, c.HashItemID, c.HashListID, c.Plaintext, c.Timestamp, c.Serial)
	if err != nil {
		return fmt.Errorf("failed to insert crack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return corekit.ErrConflict
	}
	return nil
}

func (t *pgTx) AppendZap(ctx context.Context, attackID, hashValue string) (int64, error) {
	var serial int64
	err := t.tx.QueryRow(ctx, `
		UPDATE attacks SET zap_serial = zap_serial + 1 WHERE id = $1 RETURNING zap_serial
	`, attackID).Scan(&serial)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, corekit.ErrNotFound
		}
		return 0, fmt.Errorf("failed to advance zap serial: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO attack_zap_log (attack_id, serial, hash_value) VALUES ($1,$2,$3)
	`, attackID, serial, hashValue)
	if err != nil {
		return 0, fmt.Errorf("failed to append zap entry: %w", err)
	}
	return serial, nil
}

func (t *pgTx) ZapsSince(ctx context.Context, attackID string, sinceSerial int64) ([]string, int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT hash_value, serial FROM attack_zap_log
		WHERE attack_id = $1 AND serial > $2
		ORDER BY serial ASC
	`, attackID, sinceSerial)
	if err != nil {
		return nil, sinceSerial, fmt.Errorf("failed to query zap log: %w", err)
	}
	defer rows.Close()

	var (
		values []string
		max    = sinceSerial
	)
	for rows.Next() {
		var value string
		var serial int64
		if err := rows.Scan(&value, &serial); err != nil {
			return nil, sinceSerial, fmt.Errorf("failed to scan zap entry: %w", err)
		}
		values = append(values, value)
		if serial > max {
			max = serial
		}
	}
	return values, max, rows.Err()
}

func (t *pgTx) GetZapCursor(ctx context.Context, attackID, agentID string) (int64, error) {
	var serial int64
	err := t.tx.QueryRow(ctx, `
		SELECT serial FROM zap_cursors WHERE attack_id = $1 AND agent_id = $2
		FOR UPDATE
	`, attackID, agentID).Scan(&serial)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query zap cursor: %w", err)
	}
	return serial, nil
}

func (t *pgTx) SetZapCursor(ctx context.Context, attackID, agentID string, serial int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO zap_cursors (attack_id, agent_id, serial) VALUES ($1,$2,$3)
		ON CONFLICT (attack_id, agent_id) DO UPDATE SET serial = EXCLUDED.serial
	`, attackID, agentID, serial)
	if err != nil {
		return fmt.Errorf("failed to upsert zap cursor: %w", err)
	}
	return nil
}

// --- ErrorRepo ---

func (t *pgTx) InsertAgentError(ctx context.Context, e *models.AgentError) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal error metadata: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO agent_errors (id, agent_id, severity, task_id, message, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.AgentID, e.Severity, e.TaskID, e.Message, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent error: %w", err)
	}
	return nil
}
