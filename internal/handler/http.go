package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/override"
	"github.com/tournament-registry/internal/service"
	"github.com/tournament-registry/internal/websocket"
)

// OverrideStore reads and writes manual corrections
type OverrideStore interface {
	Load(ctx context.Context) override.Table
	Put(ctx context.Context, id string, o domain.Override) cache.Status
}

// Pinger reports whether the shared store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the registration API
type Handler struct {
	service   *service.RegistrationService
	hub       *websocket.Hub
	overrides OverrideStore
	store     Pinger
	logger    *slog.Logger
}

// NewHandler creates a new HTTP handler. overrides may be nil, which disables
// the override routes.
func NewHandler(svc *service.RegistrationService, hub *websocket.Hub, overrides OverrideStore, store Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		service:   svc,
		hub:       hub,
		overrides: overrides,
		store:     store,
		logger:    logger,
	}
}

// APIResponse is the envelope for auxiliary endpoints and errors
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/players", h.GetPlayers)
		r.Get("/players/by-category", h.GetPlayersByCategory)
		r.Post("/refresh", h.Refresh)
		r.Get("/stats", h.GetStats)
		r.Get("/categories", h.GetCategories)

		if h.overrides != nil {
			r.Get("/overrides", h.ListOverrides)
			r.Put("/overrides/{playerID}", h.PutOverride)
		}

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// writeError maps a domain.Error to its status and code. Anything else is
// logged and reported as a generic internal error.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	derr, ok := domain.AsError(err)
	if !ok || derr.Kind == domain.KindInternal {
		h.logger.Error("request failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, APIResponse{
			Error: "Erreur interne du serveur",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	status := derr.Status
	if status < 400 {
		status = http.StatusBadGateway
	}
	if derr.Kind == domain.KindRateLimited && derr.RetryAfter > 0 {
		secs := int(math.Ceil(derr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	h.writeJSON(w, status, APIResponse{Error: derr.Message, Code: derr.Code})
}

// HandleWebSocket upgrades to a websocket connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns connection counts
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	subs := make(map[domain.CategoryID]int, len(domain.Categories))
	for _, c := range domain.Categories {
		subs[c.ID] = h.hub.GetSubscriberCount(c.ID)
	}
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"subscribers":       subs,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings the shared store
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("store not ready", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Error: "store unavailable",
				Code:  "SERVICE_UNAVAILABLE",
			})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetPlayers returns the player list. Query params: sort, order, category.
func (h *Handler) GetPlayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	key, ok := service.ParseSortKey(q.Get("sort"))
	if !ok {
		h.writeError(w, domain.BadRequest("invalid sort key: "+q.Get("sort")))
		return
	}

	var descending bool
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		descending = true
	default:
		h.writeError(w, domain.BadRequest("invalid order: "+q.Get("order")))
		return
	}

	resp := h.service.Players(r.Context())

	if id := domain.CategoryID(q.Get("category")); id != "" {
		if _, ok := domain.CategoryByID(id); !ok {
			h.writeError(w, domain.BadRequest("unknown category: "+string(id)))
			return
		}
		resp.Players = service.FilterByCategory(resp.Players, id)
	}
	resp.Players = service.SortPlayers(resp.Players, key, descending)

	h.writeJSON(w, http.StatusOK, resp)
}

// GetPlayersByCategory returns one group per category, empty ones included
func (h *Handler) GetPlayersByCategory(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Players(r.Context())
	players := service.SortPlayers(resp.Players, service.SortByLastName, false)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories":  service.GroupByCategory(players),
		"fromCache":   resp.FromCache,
		"lastUpdated": resp.LastUpdated,
		"warning":     resp.Warning,
	})
}

// Refresh triggers a rate-limited rebuild
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Refresh(r.Context())
	if err != nil {
		if domain.KindOf(err) != domain.KindRateLimited {
			h.logger.Error("refresh failed", "error", err)
		}
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, result)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Stats(r.Context()))
}

// GetCategories lists the configured categories in rank order
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, domain.Categories)
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.overrides.Load(r.Context()))
}

// PutOverride stores a correction for one player. Only the fields present
// in the body are changed.
func (h *Handler) PutOverride(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, domain.BadRequest("player id required"))
		return
	}

	var o domain.Override
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		h.writeError(w, domain.BadRequest("invalid override body"))
		return
	}
	if o.LicenseNumber != nil {
		cleaned, ok := domain.CleanLicenseNumber(*o.LicenseNumber)
		if !ok {
			h.writeError(w, domain.BadRequest("invalid license number"))
			return
		}
		o.LicenseNumber = &cleaned
	}

	if status := h.overrides.Put(r.Context(), playerID, o); !status.OK() {
		h.writeError(w, domain.ServiceUnavailable("override could not be stored"))
		return
	}

	h.writeSuccess(w, map[string]interface{}{"player_id": playerID, "override": o})
}
