package service

import (
	"context"
	"fmt"
	"strings"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// CatalogSyncer upserts a seed catalog.
type CatalogSyncer interface {
	SyncProperties(ctx context.Context, properties []*models.Property) error
}

type PropertyService struct {
	repo   domain.PropertyRepository
	logger *zerolog.Logger
}

func NewPropertyService(repo domain.PropertyRepository, logger *zerolog.Logger) *PropertyService {
	return &PropertyService{repo: repo, logger: logger}
}

func validateProperty(p *models.Property) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("property name is required: %w", domain.ErrInvalidInput)
	}
	if p.Price < 0 || p.CleaningFee < 0 || p.ServiceFee < 0 || p.SecurityDeposit < 0 {
		return fmt.Errorf("negative amount: %w", domain.ErrInvalidInput)
	}
	if p.PriceType != models.PriceNightly && p.PriceType != models.PriceFlat {
		return fmt.Errorf("unknown price type %q: %w", p.PriceType, domain.ErrInvalidInput)
	}
	if !p.CancellationPolicy.Valid() {
		return fmt.Errorf("unknown cancellation policy %q: %w", p.CancellationPolicy, domain.ErrInvalidInput)
	}
	if p.MinStay < 0 || p.MaxStay < 0 || (p.MaxStay > 0 && p.MinStay > p.MaxStay) {
		return fmt.Errorf("min_stay %d / max_stay %d: %w", p.MinStay, p.MaxStay, domain.ErrInvalidInput)
	}
	return nil
}

func (s *PropertyService) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	return s.repo.GetProperty(ctx, id)
}

func (s *PropertyService) ListProperties(ctx context.Context, activeOnly bool) ([]*models.Property, error) {
	return s.repo.ListProperties(ctx, activeOnly)
}

// CreateProperty registers a listing. A host always becomes its owner.
func (s *PropertyService) CreateProperty(ctx context.Context, actor domain.Actor, p *models.Property) error {
	switch {
	case actor.IsAdmin():
		if p.OwnerID == 0 {
			return fmt.Errorf("owner_id is required: %w", domain.ErrInvalidInput)
		}
	case actor.Role == domain.RoleHost:
		p.OwnerID = actor.ID
	default:
		return fmt.Errorf("create property: %w", domain.ErrUnauthorized)
	}
	if p.PriceType == "" {
		p.PriceType = models.PriceNightly
	}
	if err := validateProperty(p); err != nil {
		return err
	}

	p.ID = 0
	if err := s.repo.CreateProperty(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Int64("property_id", p.ID).Int64("owner_id", p.OwnerID).Msg("Property created")
	return nil
}

// UpdateProperty replaces the editable fields of a listing. Only the owner
// or an admin may change it; ownership itself is admin only.
func (s *PropertyService) UpdateProperty(ctx context.Context, actor domain.Actor, p *models.Property) error {
	current, err := s.repo.GetProperty(ctx, p.ID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		if actor.Role != domain.RoleHost || current.OwnerID != actor.ID {
			return fmt.Errorf("update property %d: %w", p.ID, domain.ErrUnauthorized)
		}
		p.OwnerID = current.OwnerID
	}
	if p.PriceType == "" {
		p.PriceType = current.PriceType
	}
	if err := validateProperty(p); err != nil {
		return err
	}

	if err := s.repo.UpdateProperty(ctx, p); err != nil {
		return err
	}
	p.CreatedAt = current.CreatedAt
	s.logger.Info().Int64("property_id", p.ID).Int64("actor_id", actor.ID).Msg("Property updated")
	return nil
}

// SyncCatalog validates a seed catalog and upserts it.
func SyncCatalog(ctx context.Context, syncer CatalogSyncer, properties []*models.Property, logger *zerolog.Logger) error {
	for _, p := range properties {
		if p.PriceType == "" {
			p.PriceType = models.PriceNightly
		}
		if err := validateProperty(p); err != nil {
			return fmt.Errorf("property %d: %w", p.ID, err)
		}
	}
	if err := syncer.SyncProperties(ctx, properties); err != nil {
		return err
	}
	logger.Info().Int("count", len(properties)).Msg("Property catalog synced")
	return nil
}
