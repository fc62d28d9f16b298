package links

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

const (
	defaultCacheCounters = 100_000
	defaultCacheMaxCost  = 10_000
	cacheBufferItems     = 64
)

var errPurgeUnsupported = errors.New("links: backend does not support purging expired links")

// CachedRepositoryConfig describes a read-through cache in front of another RemoteStore.
type CachedRepositoryConfig struct {
	Backend     RemoteStore
	NumCounters int64
	MaxCost     int64
	Clock       func() time.Time
	Logger      *zap.Logger
}

// CachedRepository caches FindActive hits until the cached link expires.
// Mutations through the repository invalidate the cached entry. Each invalidation bumps a per-code
// generation so a lookup that read the backend before a mutation cannot repopulate the cache after it.
type CachedRepository struct {
	backend RemoteStore
	cache   *ristretto.Cache
	clock   func() time.Time
	logger  *zap.Logger

	mu          sync.Mutex
	generations map[Code]uint64
}

// NewCachedRepository wraps cfg.Backend with a ristretto cache.
func NewCachedRepository(cfg CachedRepositoryConfig) (*CachedRepository, error) {
	if cfg.Backend == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingRmt, errMissingRemoteStore)
	}
	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = defaultCacheCounters
	}
	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = defaultCacheMaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, newServiceError(opRepositoryNew, reasonInvalid, err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &CachedRepository{
		backend:     cfg.Backend,
		cache:       cache,
		clock:       clock,
		logger:      logger,
		generations: make(map[Code]uint64),
	}, nil
}

// Close releases the cache goroutines.
func (repository *CachedRepository) Close() {
	repository.cache.Close()
}

// Insert delegates to the backend. New links are cached on their first lookup.
func (repository *CachedRepository) Insert(ctx context.Context, link Link) (Link, error) {
	return repository.backend.Insert(ctx, link)
}

// FindActive serves cached links that are still active at now and falls back to the backend.
func (repository *CachedRepository) FindActive(ctx context.Context, code Code, now time.Time) (*Link, error) {
	if cached, ok := repository.cache.Get(code.String()); ok {
		if link, ok := cached.(Link); ok && link.IsActive(now) {
			return &link, nil
		}
	}
	generation := repository.generation(code)
	link, err := repository.backend.FindActive(ctx, code, now)
	if err != nil || link == nil {
		return link, err
	}
	repository.storeIfCurrent(*link, generation)
	return link, nil
}

// ListActiveByCreator is never cached.
func (repository *CachedRepository) ListActiveByCreator(ctx context.Context, creator CreatorID, now time.Time) ([]Link, error) {
	return repository.backend.ListActiveByCreator(ctx, creator, now)
}

// UpdateContent invalidates the cached entry and refreshes it with the stored row.
func (repository *CachedRepository) UpdateContent(ctx context.Context, code Code, creator CreatorID, content Content, now time.Time) (Link, error) {
	repository.invalidate(code)
	link, err := repository.backend.UpdateContent(ctx, code, creator, content, now)
	if err != nil {
		repository.invalidate(code)
		return Link{}, err
	}
	repository.replace(link)
	return link, nil
}

// Delete invalidates the cached entry around the backend delete.
func (repository *CachedRepository) Delete(ctx context.Context, code Code, creator CreatorID) error {
	repository.invalidate(code)
	defer repository.invalidate(code)
	return repository.backend.Delete(ctx, code, creator)
}

// PurgeExpired delegates to the backend. Backends without a purge fail with an error rather than report zero rows.
func (repository *CachedRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	purger, ok := repository.backend.(Purger)
	if !ok {
		return 0, newServiceError(opPurgeExpired, reasonUnsupported, errPurgeUnsupported)
	}
	return purger.PurgeExpired(ctx, now)
}

// SupportsPurge reports whether the wrapped backend can reclaim expired rows.
func (repository *CachedRepository) SupportsPurge() bool {
	_, ok := repository.backend.(Purger)
	return ok
}

func (repository *CachedRepository) generation(code Code) uint64 {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	return repository.generations[code]
}

func (repository *CachedRepository) storeIfCurrent(link Link, generation uint64) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if repository.generations[link.Code] != generation {
		return
	}
	repository.set(link)
}

func (repository *CachedRepository) replace(link Link) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.generations[link.Code]++
	repository.cache.Del(link.Code.String())
	repository.set(link)
}

func (repository *CachedRepository) invalidate(code Code) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.generations[code]++
	repository.cache.Del(code.String())
}

func (repository *CachedRepository) set(link Link) {
	ttl := link.ExpiresAt.Sub(repository.clock())
	if ttl <= 0 {
		return
	}
	if !repository.cache.SetWithTTL(link.Code.String(), link, 1, ttl) {
		repository.logger.Debug("link cache rejected entry", zap.String(fieldCode, link.Code.String()))
	}
	repository.cache.Wait()
}
