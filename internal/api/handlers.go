// Package api exposes the authentication engine over HTTP
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/stepgate/stepgate/internal/common/errors"
	"github.com/stepgate/stepgate/internal/engine"
	"github.com/stepgate/stepgate/internal/metrics"
	"github.com/stepgate/stepgate/internal/risk"
)

// HeaderAPIVersion is set on every response
const HeaderAPIVersion = "X-API-Version"

// APIVersion is the current API version
const APIVersion = "1.0"

// Handler wires the engine into gin routes
type Handler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewHandler creates the HTTP handler
func NewHandler(eng *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: eng,
		logger: logger.With(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts all routes on the router
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.HandleHealth)
	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/v1/authn")
	v1.Use(versionHeader())
	{
		v1.POST("/start", h.HandleStart)
		v1.POST("/verify", h.HandleVerify)
		v1.DELETE("/sessions/:id", h.HandleCancel)
	}
}

func versionHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, APIVersion)
		c.Next()
	}
}

// StartRequest begins an authentication attempt. The contextual fields feed
// risk assessment; all are optional except user_id.
type StartRequest struct {
	UserID            string  `json:"user_id" binding:"required"`
	IPAddress         string  `json:"ip_address"`
	UserAgent         string  `json:"user_agent"`
	DeviceFingerprint string  `json:"device_fingerprint"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
}

// HandleStart handles POST /v1/authn/start
func (h *Handler) HandleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("invalid request body: "+err.Error()))
		return
	}

	sc := &risk.SignalContext{
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
	}
	if sc.IPAddress == "" {
		sc.IPAddress = c.ClientIP()
	}
	if sc.UserAgent == "" {
		sc.UserAgent = c.Request.UserAgent()
	}

	result, err := h.engine.StartAuthentication(c.Request.Context(), req.UserID, sc)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// VerifyRequest answers an outstanding challenge
type VerifyRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	ChallengeID string `json:"challenge_id" binding:"required"`
	Code        string `json:"code"`
	Sample      []byte `json:"sample"`
}

// HandleVerify handles POST /v1/authn/verify
func (h *Handler) HandleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.ValidationError("invalid request body: "+err.Error()))
		return
	}

	result, err := h.engine.VerifyChallenge(c.Request.Context(), req.SessionID, req.ChallengeID, &engine.Response{
		Code:   req.Code,
		Sample: req.Sample,
	})
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleCancel handles DELETE /v1/authn/sessions/:id
func (h *Handler) HandleCancel(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.engine.CancelAuthentication(c.Request.Context(), sessionID); err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
