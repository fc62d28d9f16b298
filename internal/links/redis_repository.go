package links

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisKeyPrefix = "linkdrop"
	redisMaxTxAttempts    = 5
	redisScoreMax         = "+inf"
	redisScoreMin         = "-inf"
)

// RedisRepositoryConfig describes the dependencies of a RedisRepository.
type RedisRepositoryConfig struct {
	Client redis.UniversalClient
	// KeyPrefix namespaces every key. Defaults to "linkdrop".
	KeyPrefix string
	// ActiveLimit caps active links per creator on insert. Zero disables the check.
	ActiveLimit int
	Logger      *zap.Logger
}

// RedisRepository stores one key per code with a native TTL and a per-creator sorted set scored by expiry.
type RedisRepository struct {
	client      redis.UniversalClient
	prefix      string
	activeLimit int
	logger      *zap.Logger
}

type redisLinkPayload struct {
	Code            string `json:"id"`
	Content         string `json:"content"`
	CreatedAtMillis int64  `json:"created_at_ms"`
	ExpiresAtMillis int64  `json:"expires_at_ms"`
	CreatorID       string `json:"creator_id"`
}

// NewRedisRepository validates the configuration and returns a repository.
func NewRedisRepository(cfg RedisRepositoryConfig) (*RedisRepository, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opRepositoryNew, reasonMissingRds, errMissingRedisClient)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &RedisRepository{
		client:      cfg.Client,
		prefix:      prefix,
		activeLimit: cfg.ActiveLimit,
		logger:      logger,
	}, nil
}

func (repository *RedisRepository) linkKey(code Code) string {
	return repository.prefix + ":link:" + code.String()
}

func (repository *RedisRepository) creatorKey(creator CreatorID) string {
	return repository.prefix + ":creator:" + creator.String()
}

// Insert stores the link when its code is free and the creator is below the active limit.
func (repository *RedisRepository) Insert(ctx context.Context, link Link) (Link, error) {
	payload, err := json.Marshal(newRedisLinkPayload(link))
	if err != nil {
		return Link{}, newServiceError(opInsert, reasonEncodeFail, err)
	}
	linkKey := repository.linkKey(link.Code)
	creatorKey := repository.creatorKey(link.CreatorID)
	nowMillis := link.CreatedAtMillis()
	ttl := link.ExpiresAt.Sub(link.CreatedAt)

	insert := func(transaction *redis.Tx) error {
		existing, err := repository.readPayload(ctx, opInsert, transaction, linkKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.ExpiresAtMillis > nowMillis {
			return newServiceError(opInsert, reasonCodeTaken, ErrCodeTaken)
		}
		if repository.activeLimit > 0 {
			activeCount, err := transaction.ZCount(ctx, creatorKey, exclusiveScore(nowMillis), redisScoreMax).Result()
			if err != nil {
				return newServiceError(opInsert, reasonQuery, err)
			}
			if activeCount >= int64(repository.activeLimit) {
				return newServiceError(opInsert, reasonCapacity, ErrCapacityExceeded)
			}
		}
		_, err = transaction.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, linkKey, payload, ttl)
			pipe.ZRemRangeByScore(ctx, creatorKey, redisScoreMin, strconv.FormatInt(nowMillis, 10))
			pipe.ZAdd(ctx, creatorKey, redis.Z{Score: float64(link.ExpiresAtMillis()), Member: link.Code.String()})
			pipe.PExpire(ctx, creatorKey, ttl)
			return nil
		})
		return err
	}

	if err := repository.watch(ctx, insert, linkKey, creatorKey); err != nil {
		if !errors.Is(err, ErrCodeTaken) && !errors.Is(err, ErrCapacityExceeded) {
			logError(repository.logger, opInsert, reasonTransaction, err,
				zap.String(fieldCode, link.Code.String()),
				zap.String(fieldCreatorID, link.CreatorID.String()))
			if ErrorCode(err) == "" {
				err = newServiceError(opInsert, reasonTransaction, err)
			}
		}
		return Link{}, err
	}
	return link, nil
}

// FindActive returns the active link for code or nil.
func (repository *RedisRepository) FindActive(ctx context.Context, code Code, now time.Time) (*Link, error) {
	payload, err := repository.readPayload(ctx, opFindActive, repository.client, repository.linkKey(code))
	if err != nil {
		logError(repository.logger, opFindActive, reasonQuery, err, zap.String(fieldCode, code.String()))
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	link := payload.Link()
	if !link.IsActive(now) {
		return nil, nil
	}
	return &link, nil
}

// ListActiveByCreator returns the creator's active links, newest first.
func (repository *RedisRepository) ListActiveByCreator(ctx context.Context, creator CreatorID, now time.Time) ([]Link, error) {
	codes, err := repository.client.ZRangeByScore(ctx, repository.creatorKey(creator), &redis.ZRangeBy{
		Min: exclusiveScore(now.UnixMilli()),
		Max: redisScoreMax,
	}).Result()
	if err != nil {
		logError(repository.logger, opListActive, reasonQuery, err, zap.String(fieldCreatorID, creator.String()))
		return nil, newServiceError(opListActive, reasonQuery, err)
	}
	if len(codes) == 0 {
		return []Link{}, nil
	}
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, repository.linkKey(Code(code)))
	}
	values, err := repository.client.MGet(ctx, keys...).Result()
	if err != nil {
		logError(repository.logger, opListActive, reasonQuery, err, zap.String(fieldCreatorID, creator.String()))
		return nil, newServiceError(opListActive, reasonQuery, err)
	}
	result := make([]Link, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var payload redisLinkPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			logError(repository.logger, opListActive, reasonDecodeFail, err, zap.String(fieldCreatorID, creator.String()))
			continue
		}
		link := payload.Link()
		if link.OwnedBy(creator) && link.IsActive(now) {
			result = append(result, link)
		}
	}
	sort.SliceStable(result, func(left, right int) bool {
		return result[left].CreatedAt.After(result[right].CreatedAt)
	})
	return result, nil
}

// UpdateContent replaces content on an active link owned by creator, keeping its TTL.
func (repository *RedisRepository) UpdateContent(ctx context.Context, code Code, creator CreatorID, content Content, now time.Time) (Link, error) {
	linkKey := repository.linkKey(code)
	var updated Link
	update := func(transaction *redis.Tx) error {
		existing, err := repository.readPayload(ctx, opUpdateContent, transaction, linkKey)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		link := existing.Link()
		if !link.OwnedBy(creator) || !link.IsActive(now) {
			return ErrNotFound
		}
		link.Content = content
		encoded, err := json.Marshal(newRedisLinkPayload(link))
		if err != nil {
			return newServiceError(opUpdateContent, reasonEncodeFail, err)
		}
		_, err = transaction.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, linkKey, encoded, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		updated = link
		return nil
	}
	if err := repository.watch(ctx, update, linkKey); err != nil {
		if !errors.Is(err, ErrNotFound) {
			logError(repository.logger, opUpdateContent, reasonTransaction, err,
				zap.String(fieldCode, code.String()),
				zap.String(fieldCreatorID, creator.String()))
		}
		return Link{}, err
	}
	return updated, nil
}

// Delete removes the link owned by creator.
func (repository *RedisRepository) Delete(ctx context.Context, code Code, creator CreatorID) error {
	linkKey := repository.linkKey(code)
	creatorKey := repository.creatorKey(creator)
	remove := func(transaction *redis.Tx) error {
		existing, err := repository.readPayload(ctx, opDelete, transaction, linkKey)
		if err != nil {
			return err
		}
		if existing == nil || existing.CreatorID != creator.String() {
			return ErrNotFound
		}
		_, err = transaction.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, linkKey)
			pipe.ZRem(ctx, creatorKey, code.String())
			return nil
		})
		return err
	}
	if err := repository.watch(ctx, remove, linkKey, creatorKey); err != nil {
		if !errors.Is(err, ErrNotFound) {
			logError(repository.logger, opDelete, reasonTransaction, err,
				zap.String(fieldCode, code.String()),
				zap.String(fieldCreatorID, creator.String()))
		}
		return err
	}
	return nil
}

func (repository *RedisRepository) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < redisMaxTxAttempts; attempt++ {
		err = repository.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (repository *RedisRepository) readPayload(ctx context.Context, operation string, reader redisGetter, key string) (*redisLinkPayload, error) {
	raw, err := reader.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(operation, reasonQuery, err)
	}
	var payload redisLinkPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, newServiceError(operation, reasonDecodeFail, err)
	}
	return &payload, nil
}

func newRedisLinkPayload(link Link) redisLinkPayload {
	return redisLinkPayload{
		Code:            link.Code.String(),
		Content:         link.Content.String(),
		CreatedAtMillis: link.CreatedAtMillis(),
		ExpiresAtMillis: link.ExpiresAtMillis(),
		CreatorID:       link.CreatorID.String(),
	}
}

func (payload redisLinkPayload) Link() Link {
	return LinkRecord{
		Code:            payload.Code,
		Content:         payload.Content,
		CreatedAtMillis: payload.CreatedAtMillis,
		ExpiresAtMillis: payload.ExpiresAtMillis,
		CreatorID:       payload.CreatorID,
	}.Link()
}

func exclusiveScore(millis int64) string {
	return "(" + strconv.FormatInt(millis, 10)
}
