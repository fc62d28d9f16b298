package links

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxCodeAttempts bounds code generation for a single drop.
	DefaultMaxCodeAttempts = 64

	EventLinkCreated         = "link_created"
	EventLinkUpdated         = "link_updated"
	EventLinkRetrieved       = "link_retrieved"
	EventLinkRetrievalFailed = "link_retrieval_failed"
	EventLinkDeleted         = "link_deleted"
)

// Event describes a store activity for analytics consumers.
type Event struct {
	Name          string
	Code          Code
	CreatorID     CreatorID
	ContentLength int
	ExpiresAt     time.Time
	IsOwn         bool
	Timestamp     time.Time
}

// EventSink receives store activity. Implementations must not block.
type EventSink interface {
	Record(event Event)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	CreatorID       CreatorID
	Remote          RemoteStore
	Generator       CodeGenerator
	Clock           func() time.Time
	Logger          *zap.Logger
	Events          EventSink
	ActiveLimit     int
	MaxCodeAttempts int
}

// Store caches the caller's own links and the links it received from others, and enforces
// capacity, uniqueness and ownership before delegating to the remote store.
type Store struct {
	creatorID       CreatorID
	remote          RemoteStore
	generator       CodeGenerator
	clock           func() time.Time
	logger          *zap.Logger
	events          EventSink
	activeLimit     int
	maxCodeAttempts int

	dropMu   sync.Mutex
	mu       sync.RWMutex
	links    map[Code]Link
	received map[Code]Link
}

// NewStore validates the configuration and returns an empty store. Call Load to populate owned links.
func NewStore(cfg StoreConfig) (*Store, error) {
	creatorID, err := NewCreatorID(cfg.CreatorID.String())
	if err != nil {
		return nil, newServiceError(opStoreNew, reasonInvalid, err)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opStoreNew, reasonMissingRmt, errMissingRemoteStore)
	}
	generator := cfg.Generator
	if generator == nil {
		generator = NewRandomCodeGenerator(nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	activeLimit := cfg.ActiveLimit
	if activeLimit <= 0 {
		activeLimit = DefaultActiveLimit
	}
	maxCodeAttempts := cfg.MaxCodeAttempts
	if maxCodeAttempts <= 0 {
		maxCodeAttempts = DefaultMaxCodeAttempts
	}
	return &Store{
		creatorID:       creatorID,
		remote:          cfg.Remote,
		generator:       generator,
		clock:           clock,
		logger:          logger,
		events:          cfg.Events,
		activeLimit:     activeLimit,
		maxCodeAttempts: maxCodeAttempts,
		links:           make(map[Code]Link),
		received:        make(map[Code]Link),
	}, nil
}

// CreatorID returns the identity threaded through every operation.
func (store *Store) CreatorID() CreatorID {
	return store.creatorID
}

// Load replaces the owned-links cache with the creator's active links from the remote store.
func (store *Store) Load(ctx context.Context) error {
	owned, err := store.remote.ListActiveByCreator(ctx, store.creatorID, store.clock())
	if err != nil {
		logError(store.logger, opLoad, reasonRemote, err, zap.String(fieldCreatorID, store.creatorID.String()))
		return newServiceError(opLoad, reasonRemote, err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.links = make(map[Code]Link, len(owned))
	for _, link := range owned {
		store.links[link.Code] = link
	}
	return nil
}

// DropLink creates a new link for the caller.
func (store *Store) DropLink(ctx context.Context, rawContent string) (Link, error) {
	content, err := NewContent(rawContent)
	if err != nil {
		return Link{}, newServiceError(opDropLink, reasonInvalid, err)
	}

	store.dropMu.Lock()
	defer store.dropMu.Unlock()

	if err := store.Load(ctx); err != nil {
		return Link{}, newServiceError(opDropLink, reasonRemote, err)
	}
	now := store.clock()
	if store.countActive(now) >= store.activeLimit {
		return Link{}, newServiceError(opDropLink, reasonCapacity, ErrCapacityExceeded)
	}

	for attempt := 0; attempt < store.maxCodeAttempts; attempt++ {
		code := store.generator.GenerateCode()
		if store.isKnownActive(code, now) {
			continue
		}
		createdAt := now.UTC().Truncate(time.Millisecond)
		candidate := Link{
			Code:      code,
			Content:   content,
			CreatedAt: createdAt,
			ExpiresAt: GenerateExpirationTime(createdAt),
			CreatorID: store.creatorID,
		}
		created, err := store.remote.Insert(ctx, candidate)
		if errors.Is(err, ErrCodeTaken) {
			store.logger.Debug("code collision on insert", zap.String(fieldCode, code.String()))
			continue
		}
		if errors.Is(err, ErrCapacityExceeded) {
			return Link{}, newServiceError(opDropLink, reasonCapacity, ErrCapacityExceeded)
		}
		if err != nil {
			logError(store.logger, opDropLink, reasonRemote, err,
				zap.String(fieldCode, code.String()),
				zap.String(fieldCreatorID, store.creatorID.String()))
			return Link{}, newServiceError(opDropLink, reasonRemote, err)
		}

		store.mu.Lock()
		store.links[created.Code] = created
		store.mu.Unlock()
		store.emit(Event{
			Name:          EventLinkCreated,
			Code:          created.Code,
			CreatorID:     store.creatorID,
			ContentLength: len([]rune(created.Content)),
			ExpiresAt:     created.ExpiresAt,
			IsOwn:         true,
		})
		return created, nil
	}

	logError(store.logger, opDropLink, reasonCodeSpace, ErrCodeSpaceExhausted,
		zap.String(fieldCreatorID, store.creatorID.String()),
		zap.Int("attempts", store.maxCodeAttempts))
	return Link{}, newServiceError(opDropLink, reasonCodeSpace, ErrCodeSpaceExhausted)
}

// GetLink returns the active link for code, or nil when it does not exist or has expired.
// Links created by someone else are remembered as received links.
func (store *Store) GetLink(ctx context.Context, code Code) (*Link, error) {
	link, err := store.remote.FindActive(ctx, code, store.clock())
	if err != nil {
		logError(store.logger, opGetLink, reasonRemote, err, zap.String(fieldCode, code.String()))
		return nil, newServiceError(opGetLink, reasonRemote, err)
	}
	if link == nil {
		store.emit(Event{Name: EventLinkRetrievalFailed, Code: code})
		return nil, nil
	}

	isOwn := link.OwnedBy(store.creatorID)
	store.mu.Lock()
	if isOwn {
		store.links[link.Code] = *link
	} else {
		store.received[link.Code] = *link
	}
	store.mu.Unlock()
	store.emit(Event{
		Name:      EventLinkRetrieved,
		Code:      link.Code,
		CreatorID: link.CreatorID,
		ExpiresAt: link.ExpiresAt,
		IsOwn:     isOwn,
	})
	return link, nil
}

// UpdateLink replaces the content of an owned, active link. It returns nil without error when the link is
// unknown locally, expired, or owned by someone else.
func (store *Store) UpdateLink(ctx context.Context, code Code, rawContent string) (*Link, error) {
	now := store.clock()
	store.mu.RLock()
	existing, ok := store.links[code]
	store.mu.RUnlock()
	if !ok || !existing.IsActive(now) || !existing.OwnedBy(store.creatorID) {
		return nil, nil
	}

	content, err := NewContent(rawContent)
	if err != nil {
		return nil, newServiceError(opUpdateLink, reasonInvalid, err)
	}

	updated, err := store.remote.UpdateContent(ctx, code, store.creatorID, content, now)
	if errors.Is(err, ErrNotFound) {
		store.mu.Lock()
		delete(store.links, code)
		store.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		logError(store.logger, opUpdateLink, reasonRemote, err,
			zap.String(fieldCode, code.String()),
			zap.String(fieldCreatorID, store.creatorID.String()))
		return nil, newServiceError(opUpdateLink, reasonRemote, err)
	}

	store.mu.Lock()
	store.links[code] = updated
	store.mu.Unlock()
	store.emit(Event{
		Name:          EventLinkUpdated,
		Code:          code,
		CreatorID:     store.creatorID,
		ContentLength: len([]rune(updated.Content)),
		ExpiresAt:     updated.ExpiresAt,
		IsOwn:         true,
	})
	return &updated, nil
}

// DeleteLink removes an owned link. Unknown or foreign codes fail with ErrNotOwner.
func (store *Store) DeleteLink(ctx context.Context, code Code) error {
	store.mu.RLock()
	existing, ok := store.links[code]
	store.mu.RUnlock()
	if !ok || !existing.OwnedBy(store.creatorID) {
		return newServiceError(opDeleteLink, reasonNotOwner, ErrNotOwner)
	}

	err := store.remote.Delete(ctx, code, store.creatorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		logError(store.logger, opDeleteLink, reasonRemote, err,
			zap.String(fieldCode, code.String()),
			zap.String(fieldCreatorID, store.creatorID.String()))
		return newServiceError(opDeleteLink, reasonRemote, err)
	}

	store.mu.Lock()
	delete(store.links, code)
	store.mu.Unlock()
	store.emit(Event{Name: EventLinkDeleted, Code: code, CreatorID: store.creatorID, IsOwn: true})
	return nil
}

// ActiveLinks returns the caller's non-expired links, newest first.
func (store *Store) ActiveLinks() []Link {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return activeSorted(store.links, store.clock())
}

// ReceivedLinks returns non-expired links retrieved from other creators, newest first.
func (store *Store) ReceivedLinks() []Link {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return activeSorted(store.received, store.clock())
}

func (store *Store) countActive(now time.Time) int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	count := 0
	for _, link := range store.links {
		if link.IsActive(now) && link.OwnedBy(store.creatorID) {
			count++
		}
	}
	return count
}

func (store *Store) isKnownActive(code Code, now time.Time) bool {
	store.mu.RLock()
	defer store.mu.RUnlock()
	if link, ok := store.links[code]; ok && link.IsActive(now) {
		return true
	}
	if link, ok := store.received[code]; ok && link.IsActive(now) {
		return true
	}
	return false
}

func (store *Store) emit(event Event) {
	event.Timestamp = store.clock().UTC()
	store.logger.Info(event.Name,
		zap.String(fieldCode, event.Code.String()),
		zap.String(fieldCreatorID, event.CreatorID.String()),
		zap.Bool("is_own", event.IsOwn),
		zap.Int("content_length", event.ContentLength))
	if store.events != nil {
		store.events.Record(event)
	}
}

func activeSorted(source map[Code]Link, now time.Time) []Link {
	result := make([]Link, 0, len(source))
	for _, link := range source {
		if link.IsActive(now) {
			result = append(result, link)
		}
	}
	sort.SliceStable(result, func(left, right int) bool {
		if result[left].CreatedAt.Equal(result[right].CreatedAt) {
			return result[left].Code < result[right].Code
		}
		return result[left].CreatedAt.After(result[right].CreatedAt)
	})
	return result
}
