package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"userhub/internal/metrics"
	"userhub/internal/service"
)

const (
	identityKey     = "identity"
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Username string
	Method   string // "basic" or "bearer"
}

// IdentityHandler is a handler that requires a resolved identity.
type IdentityHandler func(c *gin.Context, id Identity)

// withIdentity hands the resolved identity to fn, answering 401 when there is none.
func (h *Handler) withIdentity(fn IdentityHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthenticated})
			return
		}
		fn(c, id)
	}
}

// requireIdentity aborts with 401 before later middleware sees an unauthenticated request.
func requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identityFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgUnauthenticated})
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	if !ok || id.Username == "" {
		return Identity{}, false
	}
	return id, true
}

// identityMiddleware resolves Basic credentials or a Bearer token to an identity.
// Requests without valid credentials continue unauthenticated.
func (h *Handler) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, value, _ := strings.Cut(header, " ")

		switch strings.ToLower(scheme) {
		case "basic":
			username, password, ok := c.Request.BasicAuth()
			if !ok {
				break
			}
			user, err := h.users.Authenticate(c.Request.Context(), username, password)
			if err != nil {
				if errors.Is(err, service.ErrInvalidCredentials) {
					h.entry(c).WithField("username", username).Info("basic authentication failed")
					break
				}
				h.writeServiceError(c, err)
				c.Abort()
				return
			}
			c.Set(identityKey, Identity{Username: user.Username, Method: "basic"})
		case "bearer":
			if h.tokens == nil {
				break
			}
			claims, err := h.tokens.Parse(strings.TrimSpace(value))
			if err != nil {
				h.entry(c).WithError(err).Debug("bearer token rejected")
				break
			}
			c.Set(identityKey, Identity{Username: claims.Subject, Method: "bearer"})
		}

		c.Next()
	}
}

// keyFunc picks the rate limiting key of a request.
type keyFunc func(c *gin.Context) string

func clientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

func identityOrIPKey(c *gin.Context) string {
	if id, ok := identityFrom(c); ok {
		return "user:" + id.Username
	}
	return clientIPKey(c)
}

// rateLimit rejects requests over the limit with 429. Limiter failures let the request through.
func (h *Handler) rateLimit(endpoint string, key keyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}

		allowed, err := h.limiter.Allow(c.Request.Context(), endpoint+":"+key(c))
		if err != nil {
			h.entry(c).WithError(err).Error("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			if h.metrics != nil {
				h.metrics.RateLimitedTotal.WithLabelValues(endpoint).Inc()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"ip":         c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		}
		if id, ok := identityFrom(c); ok {
			fields["username"] = id.Username
			fields["auth"] = id.Method
		}
		h.logger.WithFields(fields).Info("request")
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
