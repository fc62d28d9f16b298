package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/auth"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	creatorIDContextKey      = "linkdrop_creator_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingCreatorService = errors.New("creator registry dependency required")
	errMissingLinkStore      = errors.New("link store dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type CreatorTokenManager interface {
	IssueCreatorToken(ctx context.Context, creatorID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type CreatorRegistry interface {
	Register(ctx context.Context, raw string) (links.CreatorID, error)
}

type Dependencies struct {
	TokenManager      CreatorTokenManager
	Creators          CreatorRegistry
	Links             links.RemoteStore
	Realtime          *RealtimeDispatcher
	LookupLimiter     *LookupLimiter
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Creators == nil {
		return nil, errMissingCreatorService
	}
	if deps.Links == nil {
		return nil, errMissingLinkStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:            deps.TokenManager,
		creators:          deps.Creators,
		links:             deps.Links,
		realtime:          realtime,
		lookupLimiter:     deps.LookupLimiter,
		heartbeatInterval: heartbeat,
		now:               clock,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/creator", handler.handleCreatorAuth)
	router.GET("/links/:code", handler.limitLookups, handler.handleGetLink)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/links", handler.handleListLinks)
	protected.POST("/links", handler.handleCreateLink)
	protected.PATCH("/links/:code", handler.handleUpdateLink)
	protected.DELETE("/links/:code", handler.handleDeleteLink)
	protected.GET("/links/events", handler.handleLinkEvents)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens            CreatorTokenManager
	creators          CreatorRegistry
	links             links.RemoteStore
	realtime          *RealtimeDispatcher
	lookupLimiter     *LookupLimiter
	heartbeatInterval time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleCreatorAuth(c *gin.Context) {
	var request api.CreatorTokenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidRequest})
			return
		}
	}

	creatorID, err := h.creators.Register(c.Request.Context(), request.CreatorID)
	if err != nil {
		h.logger.Warn("creator registration rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidCreator})
		return
	}

	token, expiresIn, err := h.tokens.IssueCreatorToken(c.Request.Context(), creatorID.String())
	if err != nil {
		h.logger.Error("failed to issue creator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: api.ReasonTokenIssueFailed})
		return
	}

	c.JSON(http.StatusOK, api.CreatorTokenResponse{
		CreatorID:   creatorID.String(),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   auth.TokenType,
	})
}

// authorizeRequest accepts a bearer header, or an access_token query parameter for clients that cannot set headers on event streams.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query(accessTokenQueryKey)
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}
	creatorID, err := links.NewCreatorID(subject)
	if err != nil {
		h.logger.Warn("token subject rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}
	c.Set(creatorIDContextKey, creatorID)
	c.Next()
}

func creatorFromContext(c *gin.Context) (links.CreatorID, bool) {
	value, ok := c.Get(creatorIDContextKey)
	if !ok {
		return "", false
	}
	creatorID, ok := value.(links.CreatorID)
	return creatorID, ok && creatorID != ""
}
