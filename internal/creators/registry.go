package creators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const touchInterval = time.Minute

// ErrInvalidCreator indicates the presented creator id could not be used.
var ErrInvalidCreator = errors.New("creators: invalid creator id")

// RegistryConfig describes the dependencies required for creator registration.
type RegistryConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Registry records which creator ids have been issued tokens and when they were last seen.
type Registry struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	logger     *zap.Logger
	touched    sync.Map
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("creators: database connection required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:         cfg.Database,
		idProvider: idProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// Register returns the canonical creator id for raw. An empty raw value mints a new id.
// Known ids have their last-seen time refreshed at most once per minute.
func (r *Registry) Register(ctx context.Context, raw string) (links.CreatorID, error) {
	value := normalize(raw)
	if value == "" {
		minted, err := r.idProvider.NewID()
		if err != nil {
			return "", fmt.Errorf("creators: mint id: %w", err)
		}
		value = minted
	}
	creatorID, err := links.NewCreatorID(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCreator, err)
	}

	now := r.now()
	if lastTouched, ok := r.touched.Load(creatorID); ok {
		if touchedAt, ok := lastTouched.(time.Time); ok && now.Sub(touchedAt) < touchInterval {
			return creatorID, nil
		}
	}

	record := Creator{
		CreatorID:         creatorID.String(),
		CreatedAtSeconds:  now.Unix(),
		LastSeenAtSeconds: now.Unix(),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "creator_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seen_at_s"}),
		}).
		Create(&record).Error
	if err != nil {
		r.logger.Error("creator registration failed", zap.String("creator_id", creatorID.String()), zap.Error(err))
		return "", fmt.Errorf("creators: register: %w", err)
	}
	r.touched.Store(creatorID, now)
	return creatorID, nil
}

// Lookup returns the stored creator record, or nil when the id was never registered.
func (r *Registry) Lookup(ctx context.Context, creatorID links.CreatorID) (*Creator, error) {
	var record Creator
	err := r.db.WithContext(ctx).Where("creator_id = ?", creatorID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
