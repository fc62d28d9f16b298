// Package identity keeps the client's creator identifier and access token in a local YAML file.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	keyCreatorID      = "creator_id"
	keyAccessToken    = "access_token"
	keyTokenExpiresAt = "token_expires_at"

	// RefreshMargin is how long before expiry a token is replaced.
	RefreshMargin = time.Minute
)

var (
	// ErrInvalidIdentityConfig indicates a missing path or authenticator.
	ErrInvalidIdentityConfig = errors.New("identity: invalid config")

	errMissingPath          = errors.New("identity path required")
	errMissingAuthenticator = errors.New("authenticator required")
)

// Authenticator exchanges a creator id for an access token. An empty id requests a new identity.
type Authenticator interface {
	Authenticate(ctx context.Context, creatorID string) (api.CreatorTokenResponse, error)
}

// Config describes where the identity lives and how tokens are obtained.
type Config struct {
	Path          string
	Authenticator Authenticator
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Session owns the persisted identity. It is safe for concurrent use.
type Session struct {
	path          string
	authenticator Authenticator
	clock         func() time.Time
	logger        *zap.Logger

	mu        sync.Mutex
	file      *viper.Viper
	creatorID links.CreatorID
	token     string
	expiresAt time.Time
}

// Open reads the identity file when it exists. A missing file is not an error; the identity is minted on first use.
func Open(cfg Config) (*Session, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityConfig, errMissingPath)
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityConfig, errMissingAuthenticator)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("yaml")
	file.SetConfigPermissions(0o600)
	if err := file.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("identity: read %s: %w", path, err)
			}
		}
	}

	session := &Session{
		path:          path,
		authenticator: cfg.Authenticator,
		clock:         clock,
		logger:        logger,
		file:          file,
		creatorID:     links.CreatorID(strings.TrimSpace(file.GetString(keyCreatorID))),
		token:         strings.TrimSpace(file.GetString(keyAccessToken)),
	}
	if rawExpiry := file.GetString(keyTokenExpiresAt); rawExpiry != "" {
		expiresAt, err := api.ParseTimestamp(rawExpiry)
		if err != nil {
			logger.Warn("ignoring malformed token expiry", zap.String("path", path), zap.Error(err))
		} else {
			session.expiresAt = expiresAt
		}
	}
	return session, nil
}

// CreatorID returns the persisted identity, registering a new one with the server on first use.
func (session *Session) CreatorID(ctx context.Context) (links.CreatorID, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.ensureToken(ctx); err != nil {
		return "", err
	}
	return session.creatorID, nil
}

// AccessToken returns a token valid for at least RefreshMargin, refreshing it when needed.
func (session *Session) AccessToken(ctx context.Context) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.ensureToken(ctx); err != nil {
		return "", err
	}
	return session.token, nil
}

// Path reports the identity file location.
func (session *Session) Path() string {
	return session.path
}

func (session *Session) ensureToken(ctx context.Context) error {
	if session.creatorID != "" && session.token != "" && session.clock().Add(RefreshMargin).Before(session.expiresAt) {
		return nil
	}

	response, err := session.authenticator.Authenticate(ctx, session.creatorID.String())
	if err != nil {
		return fmt.Errorf("identity: authenticate: %w", err)
	}
	creatorID, err := links.NewCreatorID(response.CreatorID)
	if err != nil {
		return fmt.Errorf("identity: server returned %w", err)
	}
	if session.creatorID != "" && creatorID != session.creatorID {
		session.logger.Warn("server replaced the creator identity",
			zap.String("previous", session.creatorID.String()),
			zap.String("creator_id", creatorID.String()))
	}

	session.creatorID = creatorID
	session.token = response.AccessToken
	session.expiresAt = session.clock().Add(time.Duration(response.ExpiresIn) * time.Second).UTC().Truncate(time.Millisecond)
	return session.persist()
}

func (session *Session) persist() error {
	if err := os.MkdirAll(filepath.Dir(session.path), 0o700); err != nil {
		return fmt.Errorf("identity: create directory: %w", err)
	}
	session.file.Set(keyCreatorID, session.creatorID.String())
	session.file.Set(keyAccessToken, session.token)
	session.file.Set(keyTokenExpiresAt, api.FormatTimestamp(session.expiresAt))
	if err := session.file.WriteConfigAs(session.path); err != nil {
		return fmt.Errorf("identity: write %s: %w", session.path, err)
	}
	session.logger.Debug("identity persisted", zap.String("path", session.path), zap.String("creator_id", session.creatorID.String()))
	return nil
}
