package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"userhub/internal/auth"
	"userhub/internal/metrics"
	"userhub/internal/ratelimit"
	"userhub/internal/service"
)

const msgUnauthenticated = "User not authenticated"

// Handler wires HTTP routes to domain services.
type Handler struct {
	users   service.UserService
	tokens  *auth.TokenSigner
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
}

// NewHandler builds the API. limiter and m may be nil to disable rate limiting and metrics.
func NewHandler(users service.UserService, tokens *auth.TokenSigner, limiter ratelimit.Limiter, m *metrics.Metrics, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		users:   users,
		tokens:  tokens,
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestIDMiddleware(), h.requestLogger())
	if h.metrics != nil {
		router.Use(metricsMiddleware(h.metrics))
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/auth/login", h.rateLimit("login", clientIPKey), h.login)
	}

	user := api.Group("/user")
	user.Use(h.identityMiddleware(), requireIdentity())
	{
		user.GET("/me", h.withIdentity(h.getCurrentUser))
		user.POST("/change-password", h.rateLimit("change_password", identityOrIPKey), h.withIdentity(h.changePassword))
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
}

type currentUserResponse struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	token, err := h.tokens.Sign(user.Username, user.Roles)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token:     token.Value,
		TokenType: "Bearer",
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
		Username:  user.Username,
	})
}

func (h *Handler) getCurrentUser(c *gin.Context, id Identity) {
	resp := currentUserResponse{Username: id.Username, Roles: []string{}}

	user, err := h.users.GetByUsername(c.Request.Context(), id.Username)
	switch {
	case err == nil:
		resp.Roles = append(resp.Roles, user.Roles...)
	case errors.Is(err, service.ErrUserNotFound):
		// identity without a stored record: answer with the username alone
	default:
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) changePassword(c *gin.Context, id Identity) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), id.Username, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.String(http.StatusOK, "Password changed successfully")
}

// writeServiceError maps service errors to HTTP status codes.
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, service.ErrIncorrectPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Incorrect current password"})
	case errors.Is(err, service.ErrEmptyPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password cannot be empty"})
	case errors.Is(err, service.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password is too long"})
	default:
		h.entry(c).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *Handler) entry(c *gin.Context) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"path":       c.Request.URL.Path,
	})
}
