package links

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnContent          = "content"
	orderCreatedAtDesc     = "created_at_ms DESC"
	queryCode              = "id = ?"
	queryCodeActive        = "id = ? AND expires_at_ms > ?"
	queryCodeCreator       = "id = ? AND creator_id = ?"
	queryCodeCreatorActive = "id = ? AND creator_id = ? AND expires_at_ms > ?"
	queryCreatorActive     = "creator_id = ? AND expires_at_ms > ?"
	queryExpired           = "expires_at_ms <= ?"
	queryCreatorLock       = "SELECT pg_advisory_xact_lock(hashtext(?))"
	dialectPostgres        = "postgres"
)

// GormRepositoryConfig describes the dependencies of a GormRepository.
type GormRepositoryConfig struct {
	Database *gorm.DB
	// ActiveLimit caps active links per creator on insert. Zero disables the check.
	ActiveLimit int
	Logger      *zap.Logger
}

// GormRepository stores links in a relational table through GORM.
type GormRepository struct {
	db          *gorm.DB
	activeLimit int
	logger      *zap.Logger
}

// NewGormRepository validates the configuration and returns a repository.
func NewGormRepository(cfg GormRepositoryConfig) (*GormRepository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingDB, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GormRepository{
		db:          cfg.Database,
		activeLimit: cfg.ActiveLimit,
		logger:      logger,
	}, nil
}

// Insert reclaims an expired row holding the same code, then enforces collision and capacity rules inside one transaction.
// On postgres the transaction holds a per-creator advisory lock so concurrent inserts cannot both pass the capacity check.
// A unique violation from a racing insert of the same code surfaces as ErrCodeTaken.
func (repository *GormRepository) Insert(ctx context.Context, link Link) (Link, error) {
	record := newLinkRecord(link)
	nowMillis := record.CreatedAtMillis

	transactionError := repository.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := lockCreator(transaction, record.CreatorID); err != nil {
			return newServiceError(opInsert, reasonQuery, err)
		}

		var existing LinkRecord
		err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryCode, record.Code).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return newServiceError(opInsert, reasonQuery, err)
		case existing.ExpiresAtMillis > nowMillis:
			return newServiceError(opInsert, reasonCodeTaken, ErrCodeTaken)
		default:
			if err := transaction.Where(queryCode, record.Code).Delete(&LinkRecord{}).Error; err != nil {
				return newServiceError(opInsert, reasonQuery, err)
			}
		}

		if repository.activeLimit > 0 {
			var activeCount int64
			if err := transaction.Model(&LinkRecord{}).
				Where(queryCreatorActive, record.CreatorID, nowMillis).
				Count(&activeCount).Error; err != nil {
				return newServiceError(opInsert, reasonQuery, err)
			}
			if activeCount >= int64(repository.activeLimit) {
				return newServiceError(opInsert, reasonCapacity, ErrCapacityExceeded)
			}
		}

		if err := transaction.Create(&record).Error; err != nil {
			if isDuplicateKey(transaction, err) {
				return newServiceError(opInsert, reasonCodeTaken, ErrCodeTaken)
			}
			return newServiceError(opInsert, reasonQuery, err)
		}
		return nil
	})
	if transactionError != nil {
		if !errors.Is(transactionError, ErrCodeTaken) && !errors.Is(transactionError, ErrCapacityExceeded) {
			logError(repository.logger, opInsert, reasonTransaction, transactionError,
				zap.String(fieldCode, record.Code),
				zap.String(fieldCreatorID, record.CreatorID))
		}
		return Link{}, transactionError
	}
	return record.Link(), nil
}

// lockCreator serializes inserts per creator for the rest of the transaction.
// SQLite needs no lock because it admits a single writer.
func lockCreator(transaction *gorm.DB, creatorID string) error {
	if transaction.Dialector.Name() != dialectPostgres {
		return nil
	}
	return transaction.Exec(queryCreatorLock, creatorID).Error
}

func isDuplicateKey(db *gorm.DB, err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if translator, ok := db.Dialector.(gorm.ErrorTranslator); ok {
		return errors.Is(translator.Translate(err), gorm.ErrDuplicatedKey)
	}
	return false
}

// FindActive returns the active link for code or nil.
func (repository *GormRepository) FindActive(ctx context.Context, code Code, now time.Time) (*Link, error) {
	var record LinkRecord
	err := repository.db.WithContext(ctx).
		Where(queryCodeActive, code.String(), now.UnixMilli()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logError(repository.logger, opFindActive, reasonQuery, err, zap.String(fieldCode, code.String()))
		return nil, newServiceError(opFindActive, reasonQuery, err)
	}
	link := record.Link()
	return &link, nil
}

// ListActiveByCreator returns the creator's active links, newest first.
func (repository *GormRepository) ListActiveByCreator(ctx context.Context, creator CreatorID, now time.Time) ([]Link, error) {
	var records []LinkRecord
	if err := repository.db.WithContext(ctx).
		Where(queryCreatorActive, creator.String(), now.UnixMilli()).
		Order(orderCreatedAtDesc).
		Find(&records).Error; err != nil {
		logError(repository.logger, opListActive, reasonQuery, err, zap.String(fieldCreatorID, creator.String()))
		return nil, newServiceError(opListActive, reasonQuery, err)
	}
	result := make([]Link, 0, len(records))
	for _, record := range records {
		result = append(result, record.Link())
	}
	return result, nil
}

// UpdateContent replaces content on an active link owned by creator. Expiry and code are never touched.
func (repository *GormRepository) UpdateContent(ctx context.Context, code Code, creator CreatorID, content Content, now time.Time) (Link, error) {
	var updated LinkRecord
	transactionError := repository.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.Model(&LinkRecord{}).
			Where(queryCodeCreatorActive, code.String(), creator.String(), now.UnixMilli()).
			Update(columnContent, content.String())
		if result.Error != nil {
			return newServiceError(opUpdateContent, reasonQuery, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := transaction.Where(queryCode, code.String()).Take(&updated).Error; err != nil {
			return newServiceError(opUpdateContent, reasonQuery, err)
		}
		return nil
	})
	if transactionError != nil {
		if !errors.Is(transactionError, ErrNotFound) {
			logError(repository.logger, opUpdateContent, reasonTransaction, transactionError,
				zap.String(fieldCode, code.String()),
				zap.String(fieldCreatorID, creator.String()))
		}
		return Link{}, transactionError
	}
	return updated.Link(), nil
}

// Delete removes the link owned by creator.
func (repository *GormRepository) Delete(ctx context.Context, code Code, creator CreatorID) error {
	result := repository.db.WithContext(ctx).
		Where(queryCodeCreator, code.String(), creator.String()).
		Delete(&LinkRecord{})
	if result.Error != nil {
		logError(repository.logger, opDelete, reasonQuery, result.Error,
			zap.String(fieldCode, code.String()),
			zap.String(fieldCreatorID, creator.String()))
		return newServiceError(opDelete, reasonQuery, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes rows whose expiry is at or before now.
func (repository *GormRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := repository.db.WithContext(ctx).
		Where(queryExpired, now.UnixMilli()).
		Delete(&LinkRecord{})
	if result.Error != nil {
		logError(repository.logger, opPurgeExpired, reasonQuery, result.Error)
		return 0, newServiceError(opPurgeExpired, reasonQuery, result.Error)
	}
	return result.RowsAffected, nil
}
