package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
)

// Memory is an in-process Store used by component unit tests. All
// operations run under a single mutex; RunInTx therefore gives callers
// true serializability, which is stronger than Postgres's row-level
// locking but exercises the same optimistic-version contract so the core
// logic under test cannot tell the difference.
type Memory struct {
	mu sync.Mutex

	agents    map[string]*models.Agent
	tokens    map[string]string // agent id -> token hash
	campaigns map[string]*models.Campaign
	attacks   map[string]*models.Attack
	tasks     map[string]*models.Task
	hashLists map[string]*models.HashList
	hashItems map[string]*models.HashItem
	cracks    []*models.Crack
	errors    []*models.AgentError

	// zapLogs/zapSerial hold the per-attack append-only zap log; zapCursors
	// holds each (attack, agent) pair's last-served serial.
	zapLogs    map[string][]zapEntry
	zapSerial  map[string]int64
	zapCursors map[string]map[string]int64
}

type zapEntry struct {
	serial int64
	value  string
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		agents:     make(map[string]*models.Agent),
		tokens:     make(map[string]string),
		campaigns:  make(map[string]*models.Campaign),
		attacks:    make(map[string]*models.Attack),
		tasks:      make(map[string]*models.Task),
		hashLists:  make(map[string]*models.HashList),
		hashItems:  make(map[string]*models.HashItem),
		zapLogs:    make(map[string][]zapEntry),
		zapSerial:  make(map[string]int64),
		zapCursors: make(map[string]map[string]int64),
	}
}

// Close is a no-op for Memory.
func (m *Memory) Close() error { return nil }

// RunInTx runs fn holding the store-wide lock, using m itself as the Tx.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func cloneAgent(a *models.Agent) *models.Agent {
	cp := *a
	cp.Devices = append([]models.Device(nil), a.Devices...)
	cp.Benchmarks = make(map[int][]models.DeviceBenchmark, len(a.Benchmarks))
	for k, v := range a.Benchmarks {
		cp.Benchmarks[k] = append([]models.DeviceBenchmark(nil), v...)
	}
	cp.ExtendedHashTypeSet = make(map[int]bool, len(a.ExtendedHashTypeSet))
	for k, v := range a.ExtendedHashTypeSet {
		cp.ExtendedHashTypeSet[k] = v
	}
	if a.AssignedTaskID != nil {
		id := *a.AssignedTaskID
		cp.AssignedTaskID = &id
	}
	return &cp
}

// --- AgentRepo ---

func (m *Memory) InsertAgent(ctx context.Context, a *models.Agent, tokenHash string) error {
	if _, exists := m.agents[a.ID]; exists {
		return corekit.New(corekit.KindConflict, "agent already exists")
	}
	a.Version = 1
	m.agents[a.ID] = cloneAgent(a)
	m.tokens[a.ID] = tokenHash
	return nil
}

func (m *Memory) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, corekit.ErrNotFound
	}
	return cloneAgent(a), nil
}

func (m *Memory) GetAgentByTokenID(ctx context.Context, id string) (*models.Agent, string, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, "", corekit.ErrNotFound
	}
	return cloneAgent(a), m.tokens[id], nil
}

func (m *Memory) UpdateAgent(ctx context.Context, a *models.Agent, expectedVersion int64) error {
	existing, ok := m.agents[a.ID]
	if !ok {
		return corekit.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return corekit.ErrConcurrentModification
	}
	cp := cloneAgent(a)
	cp.Version = expectedVersion + 1
	m.agents[a.ID] = cp
	return nil
}

func (m *Memory) ListAgentsLastSeenBefore(ctx context.Context, cutoff time.Time) ([]*models.Agent, error) {
	var out []*models.Agent
	for _, a := range m.agents {
		if a.State != models.AgentStateOffline && a.State != models.AgentStateStopped && !a.LastSeenAt.IsZero() && a.LastSeenAt.Before(cutoff) {
			out = append(out, cloneAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListActiveAgentsWithBenchmark(ctx context.Context, hashType int) ([]*models.Agent, error) {
	var out []*models.Agent
	for _, a := range m.agents {
		if a.State != models.AgentStateActive {
			continue
		}
		if _, ok := a.Benchmarks[hashType]; ok {
			out = append(out, cloneAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- CampaignRepo ---

func (m *Memory) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	if _, exists := m.campaigns[c.ID]; exists {
		return corekit.New(corekit.KindConflict, "campaign already exists")
	}
	c.Version = 1
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *Memory) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, corekit.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateCampaign(ctx context.Context, c *models.Campaign, expectedVersion int64) error {
	existing, ok := m.campaigns[c.ID]
	if !ok {
		return corekit.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return corekit.ErrConcurrentModification
	}
	cp := *c
	cp.Version = expectedVersion + 1
	m.campaigns[c.ID] = &cp
	return nil
}

// --- AttackRepo ---

func (m *Memory) InsertAttack(ctx context.Context, a *models.Attack) error {
	if _, exists := m.attacks[a.ID]; exists {
		return corekit.New(corekit.KindConflict, "attack already exists")
	}
	a.Version = 1
	cp := *a
	m.attacks[a.ID] = &cp
	return nil
}

func (m *Memory) GetAttack(ctx context.Context, id string) (*models.Attack, error) {
	a, ok := m.attacks[id]
	if !ok {
		return nil, corekit.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) UpdateAttack(ctx context.Context, a *models.Attack, expectedVersion int64) error {
	existing, ok := m.attacks[a.ID]
	if !ok {
		return corekit.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return corekit.ErrConcurrentModification
	}
	cp := *a
	cp.Version = expectedVersion + 1
	m.attacks[a.ID] = &cp
	return nil
}

func (m *Memory) ListAttacksByCampaign(ctx context.Context, campaignID string) ([]*models.Attack, error) {
	var out []*models.Attack
	for _, a := range m.attacks {
		if a.CampaignID == campaignID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) ListAttacksByStates(ctx context.Context, states ...models.AttackState) ([]*models.Attack, error) {
	set := make(map[models.AttackState]bool, len(states))
	for _, s := range states {
		set[s] = true
	}
	var out []*models.Attack
	for _, a := range m.attacks {
		if set[a.State] {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- TaskRepo ---

func cloneTask(t *models.Task) *models.Task {
	cp := *t
	cp.DeviceSpeeds = append([]models.DeviceSpeed(nil), t.DeviceSpeeds...)
	if t.AssignedAgentID != nil {
		v := *t.AssignedAgentID
		cp.AssignedAgentID = &v
	}
	if t.AssignedAt != nil {
		v := *t.AssignedAt
		cp.AssignedAt = &v
	}
	if t.AcceptedAt != nil {
		v := *t.AcceptedAt
		cp.AcceptedAt = &v
	}
	if t.LastStatusAt != nil {
		v := *t.LastStatusAt
		cp.LastStatusAt = &v
	}
	if t.ETASeconds != nil {
		v := *t.ETASeconds
		cp.ETASeconds = &v
	}
	return &cp
}

func (m *Memory) InsertTasks(ctx context.Context, tasks []*models.Task) error {
	for _, t := range tasks {
		if _, exists := m.tasks[t.ID]; exists {
			return corekit.New(corekit.KindConflict, "task already exists")
		}
		t.Version = 1
		m.tasks[t.ID] = cloneTask(t)
	}
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, corekit.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) UpdateTask(ctx context.Context, t *models.Task, expectedVersion int64) error {
	existing, ok := m.tasks[t.ID]
	if !ok {
		return corekit.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return corekit.ErrConcurrentModification
	}
	cp := cloneTask(t)
	cp.Version = expectedVersion + 1
	m.tasks[t.ID] = cp
	return nil
}

func (m *Memory) ListTasksByAttack(ctx context.Context, attackID string) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range m.tasks {
		if t.AttackID == attackID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyspaceOffset < out[j].KeyspaceOffset })
	return out, nil
}

func (m *Memory) ListCandidateTasks(ctx context.Context, agent *models.Agent) ([]*models.Task, error) {
	type ranked struct {
		task     *models.Task
		priority int
		position int
	}
	var candidates []ranked
	for _, t := range m.tasks {
		if t.State != models.TaskStatePending {
			continue
		}
		attack, ok := m.attacks[t.AttackID]
		if !ok {
			continue
		}
		if attack.State != models.AttackStatePending && attack.State != models.AttackStateRunning {
			continue
		}
		campaign, ok := m.campaigns[attack.CampaignID]
		if !ok || campaign.State != models.CampaignStateActive {
			continue
		}
		if !agent.HasBenchmarkFor(attack.HashType) {
			continue
		}
		candidates = append(candidates, ranked{task: t, priority: campaign.Priority, position: attack.Position})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.position != b.position {
			return a.position < b.position
		}
		if a.task.KeyspaceOffset != b.task.KeyspaceOffset {
			return a.task.KeyspaceOffset < b.task.KeyspaceOffset
		}
		return a.task.ID < b.task.ID
	})
	out := make([]*models.Task, len(candidates))
	for i, c := range candidates {
		out[i] = cloneTask(c.task)
	}
	return out, nil
}

func (m *Memory) ListTasksByStates(ctx context.Context, states ...models.TaskState) ([]*models.Task, error) {
	set := make(map[models.TaskState]bool, len(states))
	for _, s := range states {
		set[s] = true
	}
	var out []*models.Task
	for _, t := range m.tasks {
		if set[t.State] {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- HashRepo ---

func (m *Memory) GetHashList(ctx context.Context, id string) (*models.HashList, error) {
	hl, ok := m.hashLists[id]
	if !ok {
		return nil, corekit.ErrNotFound
	}
	cp := *hl
	return &cp, nil
}

func (m *Memory) UpdateHashList(ctx context.Context, hl *models.HashList, expectedVersion int64) error {
	existing, ok := m.hashLists[hl.ID]
	if !ok {
		return corekit.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return corekit.ErrConcurrentModification
	}
	cp := *hl
	cp.Version = expectedVersion + 1
	m.hashLists[hl.ID] = &cp
	return nil
}

func (m *Memory) FindHashItemByValue(ctx context.Context, hashListID, hashValue string) (*models.HashItem, error) {
	for _, item := range m.hashItems {
		if item.HashListID == hashListID && item.HashValue == hashValue {
			cp := *item
			return &cp, nil
		}
	}
	return nil, corekit.ErrNotFound
}

func (m *Memory) ListHashItems(ctx context.Context, hashListID string) ([]*models.HashItem, error) {
	var out []*models.HashItem
	for _, item := range m.hashItems {
		if item.HashListID == hashListID {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateHashItem(ctx context.Context, item *models.HashItem) error {
	existing, ok := m.hashItems[item.ID]
	if ok && existing.Cracked {
		// Immutability once cracked.
		return corekit.New(corekit.KindConflict, "hash item already cracked")
	}
	cp := *item
	m.hashItems[item.ID] = &cp
	return nil
}

func (m *Memory) InsertCrack(ctx context.Context, c *models.Crack) error {
	for _, existing := range m.cracks {
		if existing.HashListID == c.HashListID && existing.HashItemID == c.HashItemID {
			return corekit.New(corekit.KindConflict, "crack already recorded for this hash item")
		}
	}
	cp := *c
	m.cracks = append(m.cracks, &cp)
	return nil
}

func (m *Memory) AppendZap(ctx context.Context, attackID, hashValue string) (int64, error) {
	m.zapSerial[attackID]++
	serial := m.zapSerial[attackID]
	m.zapLogs[attackID] = append(m.zapLogs[attackID], zapEntry{serial: serial, value: hashValue})
	return serial, nil
}

func (m *Memory) ZapsSince(ctx context.Context, attackID string, sinceSerial int64) ([]string, int64, error) {
	log := m.zapLogs[attackID]
	cursor := sinceSerial
	var values []string
	for _, e := range log {
		if e.serial > sinceSerial {
			values = append(values, e.value)
			if e.serial > cursor {
				cursor = e.serial
			}
		}
	}
	return values, cursor, nil
}

func (m *Memory) GetZapCursor(ctx context.Context, attackID, agentID string) (int64, error) {
	return m.zapCursors[attackID][agentID], nil
}

func (m *Memory) SetZapCursor(ctx context.Context, attackID, agentID string, serial int64) error {
	cursors, ok := m.zapCursors[attackID]
	if !ok {
		cursors = make(map[string]int64)
		m.zapCursors[attackID] = cursors
	}
	cursors[agentID] = serial
	return nil
}

// --- ErrorRepo ---

func (m *Memory) InsertAgentError(ctx context.Context, e *models.AgentError) error {
	cp := *e
	m.errors = append(m.errors, &cp)
	return nil
}

// SeedHashList is a test helper for pre-populating a bare HashList outside
// of a transaction (table setup, not part of the Tx contract).
func (m *Memory) SeedHashList(hl *models.HashList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *hl
	m.hashLists[hl.ID] = &cp
}

// SeedHashItem is a test helper for pre-populating a HashList/HashItem pair
// outside of a transaction (table setup, not part of the Tx contract).
func (m *Memory) SeedHashItem(hl *models.HashList, item *models.HashItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashLists[hl.ID]; !ok {
		cp := *hl
		m.hashLists[hl.ID] = &cp
	}
	cp := *item
	m.hashItems[item.ID] = &cp
}
