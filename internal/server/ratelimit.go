package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	visitorIdleTimeout = 10 * time.Minute
	visitorSweepPeriod = time.Minute
)

// LookupLimiterConfig configures per-client throttling of code lookups.
type LookupLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	Clock             func() time.Time
}

// LookupLimiter throttles public code lookups per client address so the four digit code space cannot be walked quickly.
type LookupLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	clock     func() time.Time
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLookupLimiter returns nil when either bound is not positive, which disables throttling.
func NewLookupLimiter(cfg LookupLimiterConfig) *LookupLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return nil
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LookupLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		clock:    clock,
	}
}

// Allow reports whether key may perform another lookup now.
func (l *LookupLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= visitorSweepPeriod {
		for visitorKey, entry := range l.visitors {
			if now.Sub(entry.lastSeen) >= visitorIdleTimeout {
				delete(l.visitors, visitorKey)
			}
		}
		l.lastSweep = now
	}
	entry, ok := l.visitors[key]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *LookupLimiter) visitorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (h *httpHandler) limitLookups(c *gin.Context) {
	if h.lookupLimiter.Allow(c.ClientIP()) {
		c.Next()
		return
	}
	h.logger.Info("code lookup throttled", zap.String("client_ip", c.ClientIP()))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{Error: api.ReasonRateLimited})
}
