package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/wastewise/relay/internal/config"
	"github.com/wastewise/relay/internal/models"
	"golang.org/x/time/rate"
)

// RateLimiter decides per client key whether a request may proceed and
// wraps handlers with that decision.
type RateLimiter interface {
	Allow(key string) bool
	Middleware(next http.Handler) http.Handler
}

var _ RateLimiter = (*ClientRateLimiter)(nil)

// ClientRateLimiter implements per-client rate limiting. Limiters live in a
// go-cache and are dropped once a client has been idle for the expiration.
type ClientRateLimiter struct {
	enabled    bool
	limiters   *cache.Cache
	rpm        int
	burst      int
	expiration time.Duration
	metrics    *Metrics
	logger     *logrus.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, metrics *Metrics, logger *logrus.Logger) *ClientRateLimiter {
	if !cfg.Enabled {
		return &ClientRateLimiter{enabled: false}
	}

	expiration := cfg.IdleExpiration
	if expiration <= 0 {
		expiration = 10 * time.Minute
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ClientRateLimiter{
		enabled:    true,
		limiters:   cache.New(expiration, expiration*2),
		rpm:        cfg.RequestsPerMinute,
		burst:      burst,
		expiration: expiration,
		metrics:    metrics,
		logger:     logger,
	}
}

// Allow checks if a client is allowed to make a request
func (r *ClientRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(key).Allow()

	if !allowed {
		r.logger.WithField("client", key).Warn("Rate limit exceeded")
		if r.metrics != nil {
			r.metrics.RecordRateLimitExceeded()
		}
	}

	return allowed
}

// getLimiter gets or creates a rate limiter for a client and refreshes its expiry
func (r *ClientRateLimiter) getLimiter(key string) *rate.Limiter {
	if v, found := r.limiters.Get(key); found {
		limiter := v.(*rate.Limiter)
		r.limiters.Set(key, limiter, r.expiration)
		return limiter
	}

	// Rate per second = RPM / 60
	limiter := rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst)
	if err := r.limiters.Add(key, limiter, r.expiration); err != nil {
		// lost the race to another request for the same client
		if v, found := r.limiters.Get(key); found {
			return v.(*rate.Limiter)
		}
	}

	return limiter
}

// Middleware rejects over-limit requests with 429 before they reach the relay
func (r *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow(ClientIP(req)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Too many requests. Please try again later."})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// ClientIP returns the first X-Forwarded-For hop, falling back to RemoteAddr
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SecurityMiddleware provides input checks on chat messages
type SecurityMiddleware struct {
	maxMessageLength int
	logger           *logrus.Logger
}

// NewSecurityMiddleware creates security middleware. A non-positive limit
// disables the length check.
func NewSecurityMiddleware(maxMessageLength int, logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		maxMessageLength: maxMessageLength,
		logger:           logger,
	}
}

// ValidateInput checks that a chat message is present and within limits
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	if s.maxMessageLength > 0 {
		if n := len([]rune(text)); n > s.maxMessageLength {
			return &MessageTooLongError{Length: n, Max: s.maxMessageLength}
		}
	}

	return nil
}
