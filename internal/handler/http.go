package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/orchestrator"
	"github.com/progression-engine/internal/redis"
	"github.com/progression-engine/internal/websocket"
)

// Handler provides HTTP handlers for the progression API
type Handler struct {
	orch        *orchestrator.Orchestrator
	leaderboard *redis.LeaderboardService
	hub         *websocket.Hub
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orch *orchestrator.Orchestrator, leaderboard *redis.LeaderboardService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		orch:        orch,
		leaderboard: leaderboard,
		hub:         hub,
		logger:      logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Progression actions
		r.Post("/actions", h.ApplyAction)

		// Users
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)

			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/progress", h.GetProgress)
				r.Get("/quests", h.ListUserQuests)
				r.Get("/quests/available", h.ListAvailableQuests)
				r.Post("/quests/{questID}/start", h.StartQuest)
				r.Get("/badges", h.ListUserBadges)
				r.Put("/path", h.ChooseSkillPath)
			})
		})

		// Content catalogs
		r.Get("/quests", h.ListQuests)
		r.Get("/quests/{questID}", h.GetQuest)
		r.Get("/badges", h.ListBadges)
		r.Get("/paths", h.ListSkillPaths)
		r.Get("/paths/{pathID}/nodes", h.ListPathNodes)

		// Leaderboard
		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/top", h.GetLeaderboardTop)
			r.Get("/around/{userID}", h.GetLeaderboardAround)
			r.Get("/rank/{userID}", h.GetLeaderboardRank)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps domain errors to HTTP status codes
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrStoreConflict):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ApplyAction applies one progression action
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	var action domain.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.orch.ApplyAction(r.Context(), &action)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, result)
}

// CreateUserRequest is the payload for user creation
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// CreateUser registers a new user at level 1 with zero XP
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	now := time.Now()
	u := &domain.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Email:     req.Email,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.orch.Store().CreateUser(r.Context(), u); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if h.leaderboard != nil {
		if err := h.leaderboard.SetUserInfo(r.Context(), u.ID, u.Username); err != nil {
			h.logger.Warn("caching user info", "user_id", u.ID, "error", err)
		}
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    u,
	})
}

// GetProgress returns the user's full progression snapshot
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	snapshot, err := h.orch.Snapshot(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, snapshot)
}

// ListUserQuests returns all of the user's quest states
func (h *Handler) ListUserQuests(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	quests, err := h.orch.Store().ListUserQuests(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, quests)
}

// ListAvailableQuests returns quests the user can start right now
func (h *Handler) ListAvailableQuests(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	u, err := h.orch.Store().GetUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	quests, err := h.orch.Quests().Available(r.Context(), h.orch.Store(), u)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, quests)
}

// StartQuest transitions a quest to active for the user
func (h *Handler) StartQuest(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	questID := chi.URLParam(r, "questID")
	if userID == "" || questID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	uq, err := h.orch.StartQuest(r.Context(), userID, questID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    uq,
	})
}

// ListUserBadges returns the user's badge unlocks
func (h *Handler) ListUserBadges(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	badges, err := h.orch.Store().ListUserBadges(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, badges)
}

// ChooseSkillPathRequest is the payload for selecting a skill path
type ChooseSkillPathRequest struct {
	PathID string `json:"path_id"`
}

// ChooseSkillPath sets the user's active skill path
func (h *Handler) ChooseSkillPath(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req ChooseSkillPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.PathID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.orch.ChooseSkillPath(r.Context(), userID, req.PathID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "path chosen"})
}

// ListQuests returns all quest templates
func (h *Handler) ListQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := h.orch.Store().ListQuests(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, quests)
}

// GetQuest returns a quest template by ID
func (h *Handler) GetQuest(w http.ResponseWriter, r *http.Request) {
	questID := chi.URLParam(r, "questID")
	if questID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	q, err := h.orch.Store().GetQuest(r.Context(), questID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, q)
}

// ListBadges returns the badge registry
func (h *Handler) ListBadges(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.orch.Badges().Registry())
}

// ListSkillPaths returns all skill paths
func (h *Handler) ListSkillPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := h.orch.Store().ListSkillPaths(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, paths)
}

// ListPathNodes returns the nodes of a skill path
func (h *Handler) ListPathNodes(w http.ResponseWriter, r *http.Request) {
	pathID := chi.URLParam(r, "pathID")
	if pathID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if _, err := h.orch.Store().GetSkillPath(r.Context(), pathID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	nodes, err := h.orch.Store().ListPathNodes(r.Context(), pathID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, nodes)
}

// GetLeaderboardTop returns the top N users by XP
func (h *Handler) GetLeaderboardTop(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	scope := redis.ScopeGlobal
	if pathID := r.URL.Query().Get("path"); pathID != "" {
		scope = redis.ScopePath(pathID)
	}

	entries, err := h.leaderboard.GetTopN(r.Context(), scope, limit)
	if err != nil {
		h.logger.Error("failed to get leaderboard top", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.leaderboard.Hydrate(r.Context(), entries)

	h.writeSuccess(w, entries)
}

// GetLeaderboardAround returns users around a specific user's rank
func (h *Handler) GetLeaderboardAround(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	count := 5
	if rangeStr := r.URL.Query().Get("range"); rangeStr != "" {
		if c, err := strconv.Atoi(rangeStr); err == nil && c > 0 {
			count = c
		}
	}

	entries, err := h.leaderboard.GetAroundUser(r.Context(), redis.ScopeGlobal, userID, count)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.leaderboard.Hydrate(r.Context(), entries)

	h.writeSuccess(w, entries)
}

// GetLeaderboardRank returns a user's rank and score
func (h *Handler) GetLeaderboardRank(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard not configured"))
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	entry, err := h.leaderboard.GetUserRank(r.Context(), redis.ScopeGlobal, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeSuccess(w, entry)
}
