// Package catalog is the thin read/write wrapper around the Repository that
// the web UI and control HTTP surfaces use for Campaign/Attack/HashList
// CRUD. It holds
// no cracking logic of its own; task planning and lifecycle transitions are
// delegated to the Scheduler.
package catalog

import (
	"context"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/clock"
	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/scheduler"
)

// Catalog implements Campaign/Attack CRUD and lifecycle start for the web
// and control surfaces.
type Catalog struct {
	store repository.Store
	clock clock.Clock
	ids   clock.IDGenerator
	sched *scheduler.Scheduler
}

// New builds a Catalog.
func New(store repository.Store, c clock.Clock, ids clock.IDGenerator, sched *scheduler.Scheduler) *Catalog {
	return &Catalog{store: store, clock: c, ids: ids, sched: sched}
}

// CreateCampaign inserts a new draft Campaign.
func (cat *Catalog) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (*models.Campaign, error) {
	campaign := &models.Campaign{
		ID:          cat.ids.NewID(),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		HashListID:  req.HashListID,
		State:       models.CampaignStateDraft,
		Version:     1,
	}
	err := cat.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertCampaign(ctx, campaign)
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// GetCampaign returns a Campaign by id.
func (cat *Catalog) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var campaign *models.Campaign
	err := cat.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.GetCampaign(ctx, id)
		if err != nil {
			return err
		}
		campaign = c
		return nil
	})
	return campaign, err
}

// ListAttacks returns every Attack of a Campaign, in position order.
func (cat *Catalog) ListAttacks(ctx context.Context, campaignID string) ([]*models.Attack, error) {
	var attacks []*models.Attack
	err := cat.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.ListAttacksByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		attacks = a
		return nil
	})
	return attacks, err
}

// CreateAttack appends a new pending Attack at the next free position within
// its campaign.
func (cat *Catalog) CreateAttack(ctx context.Context, campaignID string, req models.CreateAttackRequest, totalKeyspace uint64, complexityScore float64) (*models.Attack, error) {
	attack := &models.Attack{
		ID:              cat.ids.NewID(),
		CampaignID:      campaignID,
		Mode:            req.Mode,
		Config:          req.Config,
		HashType:        req.HashType,
		TotalKeyspace:   totalKeyspace,
		ComplexityScore: complexityScore,
		State:           models.AttackStatePending,
		Version:         1,
	}
	err := cat.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.ListAttacksByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		attack.Position = len(existing) + 1
		return tx.InsertAttack(ctx, attack)
	})
	if err != nil {
		return nil, err
	}
	return attack, nil
}

// StartCampaign moves a draft Campaign to active and plans every one of its
// pending attacks' initial task set.
func (cat *Catalog) StartCampaign(ctx context.Context, campaignID string) error {
	var attackIDs []string
	err := cat.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		campaign, err := tx.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.State != models.CampaignStateDraft {
			return corekit.New(corekit.KindConflict, "campaign is not in draft state")
		}
		attacks, err := tx.ListAttacksByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		for _, a := range attacks {
			if a.State == models.AttackStatePending {
				attackIDs = append(attackIDs, a.ID)
			}
		}
		campaign.State = models.CampaignStateActive
		return tx.UpdateCampaign(ctx, campaign, campaign.Version)
	})
	if err != nil {
		return err
	}
	for _, id := range attackIDs {
		if err := cat.sched.PlanAttackTasks(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GetHashList returns a HashList's metadata.
func (cat *Catalog) GetHashList(ctx context.Context, id string) (*models.HashList, error) {
	var hl *models.HashList
	err := cat.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		h, err := tx.GetHashList(ctx, id)
		if err != nil {
			return err
		}
		hl = h
		return nil
	})
	return hl, err
}
