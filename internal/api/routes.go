package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/internal/auth"
	"github.com/satriahrh/emora/internal/websocket"
	"github.com/satriahrh/emora/pkg/metrics"
	"github.com/satriahrh/emora/usecase"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler holds the dependencies of the HTTP routes
type Handler struct {
	emotions    *usecase.EmotionService
	chat        *usecase.ChatService
	sessionRepo repositories.SessionRepository
	hub         *websocket.Hub
	issuer      *auth.Issuer
	requireAuth bool
	logger      *zap.Logger
}

// NewHandler creates the route handlers. With requireAuth the socket only
// accepts tokens issued by issuer.
func NewHandler(
	emotions *usecase.EmotionService,
	chat *usecase.ChatService,
	sessionRepo repositories.SessionRepository,
	hub *websocket.Hub,
	issuer *auth.Issuer,
	requireAuth bool,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		emotions:    emotions,
		chat:        chat,
		sessionRepo: sessionRepo,
		hub:         hub,
		issuer:      issuer,
		requireAuth: requireAuth,
		logger:      logger,
	}
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, h *Handler) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "emora",
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/emotion", h.detectEmotion)
	e.POST("/chat", h.chatReply)

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/sessions", h.createSession)
	v1.GET("/sessions", h.listSessions)
	v1.GET("/sessions/:id", h.getSession)
	v1.GET("/classifiers", h.classifiers)

	// WebSocket endpoint, JWT validated when auth is required
	e.GET("/ws", h.serveWebSocket)
}

// detectEmotion answers one frame. Decode and classifier problems still
// produce 200 with neutral.
func (h *Handler) detectEmotion(c echo.Context) error {
	var req EmotionRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind emotion request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Image == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "image is required",
		})
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "http:" + c.RealIP()
	}

	result := h.emotions.Detect(c.Request().Context(), sessionID, req.Name, *req.Image)
	return c.JSON(http.StatusOK, EmotionResponse{Emotion: result.Stable})
}

func (h *Handler) chatReply(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "http:" + c.RealIP()
	}

	reply := h.chat.Reply(c.Request().Context(), usecase.ChatRequest{
		SessionID: sessionID,
		Name:      req.Name,
		Emotion:   req.Emotion,
		Messages:  req.Messages,
	})
	return c.JSON(http.StatusOK, reply)
}

func (h *Handler) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "name is required",
		})
	}

	sessionID := uuid.NewString()
	token, expiresAt, err := h.issuer.GenerateSessionToken(sessionID, name)
	if err != nil {
		h.logger.Error("Failed to generate session token", zap.String("sessionID", sessionID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}
	h.emotions.Sessions().Open(sessionID, name)

	h.logger.Info("Session created", zap.String("sessionID", sessionID), zap.String("name", name))
	return c.JSON(http.StatusCreated, CreateSessionResponse{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) getSession(c echo.Context) error {
	session, err := h.emotions.Session(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Session not found"})
	}
	if err != nil {
		h.logger.Error("Failed to get session", zap.String("sessionID", c.Param("id")), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) listSessions(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "name is required",
		})
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxListLimit)
	}

	sessions, err := h.sessionRepo.ListByClient(c.Request().Context(), name, limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.String("name", name), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions})
}

func (h *Handler) classifiers(c echo.Context) error {
	return c.JSON(http.StatusOK, ClassifiersResponse{Classifiers: h.emotions.ClassifierStatus()})
}

// serveWebSocket authenticates the upgrade request and hands it to the hub
func (h *Handler) serveWebSocket(c echo.Context) error {
	if !h.requireAuth {
		sessionID := c.QueryParam("session_id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		return websocket.HandleWebSocket(h.hub, c, sessionID, c.QueryParam("name"), h.logger)
	}

	token, err := auth.TokenFromRequest(c.Request())
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in the token query parameter or Authorization header",
		})
	}

	claims, err := h.issuer.ValidateToken(token)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != auth.RoleClient {
		h.logger.Warn("WebSocket connection rejected: invalid role", zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only session tokens are allowed for WebSocket connections",
		})
	}

	h.logger.Info("WebSocket connection authenticated", zap.String("sessionID", claims.SessionID))
	return websocket.HandleWebSocket(h.hub, c, claims.SessionID, claims.Name, h.logger)
}
