// Package ingestor deduplicates submitted cracks, marks hash items, appends
// to the per-attack zap-list, and reports whether the owning hash list is
// now fully cracked.
package ingestor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/otelx"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
)

// hashTypeNTLM is hashcat's mode number for NTLM, the one hash_type whose
// canonical form strips a domain\user:rid prefix.
const hashTypeNTLM = 1000

// idempotencyTTL bounds how long a (task_id, hash_value) submit_crack
// outcome is remembered, avoiding a redundant transaction for a flaky
// agent's retried submission without risking staleness
// against a hash item that gets legitimately re-cracked far later (it
// can't: HashItem is immutable once cracked).
const idempotencyTTL = 5 * time.Minute

type idempotencyEntry struct {
	outcome models.CrackOutcome
	expires time.Time
}

// idempotencyCache is a small in-process TTL cache keyed by "task_id/hash_value".
// Entries are advisory: a miss always falls through to the transactional
// path, so a cold cache or multi-instance deployment never loses correctness.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: make(map[string]idempotencyEntry)}
}

func (c *idempotencyCache) get(key string, now time.Time) (models.CrackOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || now.After(entry.expires) {
		return "", false
	}
	return entry.outcome, true
}

func (c *idempotencyCache) set(key string, outcome models.CrackOutcome, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = idempotencyEntry{outcome: outcome, expires: now.Add(idempotencyTTL)}
}

// Ingestor implements submit_crack/get_zaps.
type Ingestor struct {
	store  repository.Store
	clock  clock.Clock
	events events.Emitter
	idem   *idempotencyCache
}

// New builds an Ingestor.
func New(store repository.Store, c clock.Clock, emitter events.Emitter) *Ingestor {
	return &Ingestor{store: store, clock: c, events: emitter, idem: newIdempotencyCache()}
}

// SubmitCrack records a recovered plaintext against the task's hash list and
// reports whether the list still has uncracked items.
func (i *Ingestor) SubmitCrack(ctx context.Context, agentID, taskID string, req models.SubmitCrackRequest) (outcome models.CrackOutcome, err error) {
	ctx, end := otelx.SpanErr(ctx, "ingestor.submit_crack")
	defer func() { end(err) }()

	now := i.clock.Now()
	key := taskID + "/" + strings.ToLower(strings.TrimSpace(req.HashValue))
	if cached, ok := i.idem.get(key, now); ok {
		return cached, nil
	}

	err = i.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return corekit.ErrNotFound
		}

		attack, err := tx.GetAttack(ctx, task.AttackID)
		if err != nil {
			return err
		}
		campaign, err := tx.GetCampaign(ctx, attack.CampaignID)
		if err != nil {
			return err
		}

		canonical := Canonicalize(attack.HashType, req.HashValue)

		item, err := tx.FindHashItemByValue(ctx, campaign.HashListID, canonical)
		if err != nil {
			if corekit.Is(err, corekit.KindNotFound) {
				outcome = models.CrackOutcomeHashNotInList
				return nil
			}
			return err
		}
		if item.Cracked {
			outcome = models.CrackOutcomeAlreadyCracked
			return nil
		}

		crackedAt := req.Timestamp
		if crackedAt.After(now) {
			crackedAt = now
		}

		item.Cracked = true
		item.Plaintext = &req.Plaintext
		item.CrackedAt = &crackedAt
		item.CrackedByTaskID = &taskID
		if err := tx.UpdateHashItem(ctx, item); err != nil {
			return err
		}

		serial, err := tx.AppendZap(ctx, attack.ID, canonical)
		if err != nil {
			return err
		}

		if err := tx.InsertCrack(ctx, &models.Crack{
			TaskID:     taskID,
			HashItemID: item.ID,
			HashListID: item.HashListID,
			Plaintext:  req.Plaintext,
			Timestamp:  crackedAt,
			Serial:     serial,
		}); err != nil {
			return err
		}

		hashList, err := tx.GetHashList(ctx, item.HashListID)
		if err != nil {
			return err
		}
		hashList.CrackedCount++
		if err := tx.UpdateHashList(ctx, hashList, hashList.Version); err != nil {
			return err
		}

		if hashList.CrackedCount >= hashList.ItemCount {
			outcome = models.CrackOutcomeListComplete
		} else {
			outcome = models.CrackOutcomeMoreRemain
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	cached := outcome
	if outcome == models.CrackOutcomeMoreRemain || outcome == models.CrackOutcomeListComplete {
		i.events.Emit(events.KindCrack, taskID)
		// The item is cracked now, so a retry of this submission is a
		// resubmission of an already-cracked hash.
		cached = models.CrackOutcomeAlreadyCracked
	}
	i.idem.set(key, cached, now)
	return outcome, nil
}

// GetZaps returns hash_values cracked
// against the task's attack since agentID's last-served serial, then
// advances that cursor. The cursor is per (agent, attack), so an agent
// re-assigned within the same attack is never re-served a zap it has
// already seen.
func (i *Ingestor) GetZaps(ctx context.Context, agentID, taskID string) ([]string, error) {
	var values []string
	err := i.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return corekit.ErrNotFound
		}

		since, err := tx.GetZapCursor(ctx, task.AttackID, agentID)
		if err != nil {
			return err
		}
		zaps, newest, err := tx.ZapsSince(ctx, task.AttackID, since)
		if err != nil {
			return err
		}
		values = zaps
		if newest > since {
			return tx.SetZapCursor(ctx, task.AttackID, agentID, newest)
		}
		return nil
	})
	return values, err
}

// Canonicalize normalizes hash_value the way the attack's hash_type expects
// before lookup: hex digests are lower-cased, and an
// NTLM value carrying a "domain\user:" or "user:" prefix before the 32-hex
// digest has that prefix stripped.
func Canonicalize(hashType int, hashValue string) string {
	v := strings.TrimSpace(hashValue)
	if hashType == hashTypeNTLM {
		if idx := strings.LastIndex(v, ":"); idx != -1 {
			v = v[idx+1:]
		}
	}
	return strings.ToLower(v)
}
