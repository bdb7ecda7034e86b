package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shyim/perfaudit/internal/models"
	"github.com/shyim/perfaudit/internal/scheduler"
)

// Tasks is the scheduler surface exposed to operators.
type Tasks interface {
	AuditSite(ctx context.Context, siteID int, debug bool) (*scheduler.Report, error)
	AuditAllSites(ctx context.Context, debug bool) []*scheduler.Report
	ClearTaskRunningFlag(ctx context.Context) (bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	tasks     Tasks
	db        Pinger
	authToken string
	logger    zerolog.Logger
}

func NewHandler(tasks Tasks, db Pinger, authToken string, logger zerolog.Logger) *Handler {
	return &Handler{
		tasks:     tasks,
		db:        db,
		authToken: authToken,
		logger:    logger.With().Str("component", "handler").Logger(),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/check", h.HandleCheck)
	mux.HandleFunc("POST /api/sites/{id}/audit", h.HandleAuditSite)
	mux.HandleFunc("DELETE /api/task-flag", h.HandleClearTaskFlag)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api") && h.authToken != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") || authHeader[7:] != h.authToken {
				renderError(w, "Unauthorized", nil, http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HandleCheck runs a debug audit of every configured site and returns the
// captured log output.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("Starting diagnostic audit of all sites")
	reports := h.tasks.AuditAllSites(context.WithoutCancel(r.Context()), true)
	renderJSON(w, http.StatusOK, models.NewCheckResponse(reports))
}

func (h *Handler) HandleAuditSite(w http.ResponseWriter, r *http.Request) {
	siteID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || siteID <= 0 {
		renderError(w, "Invalid site ID", nil, http.StatusBadRequest)
		return
	}
	debug := r.URL.Query().Get("debug") == "1"

	h.logger.Info().Int("site", siteID).Bool("debug", debug).Msg("Starting manual audit")
	report, err := h.tasks.AuditSite(context.WithoutCancel(r.Context()), siteID, debug)
	if err != nil {
		h.logger.Error().Err(err).Int("site", siteID).Msg("Manual audit failed")
		renderError(w, "Audit failed", stringPtr(err.Error()), http.StatusInternalServerError)
		return
	}
	renderJSON(w, http.StatusOK, models.AuditResponse{Report: report})
}

func (h *Handler) HandleClearTaskFlag(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.tasks.ClearTaskRunningFlag(r.Context())
	if err != nil {
		renderError(w, "Failed to clear task flag", stringPtr(err.Error()), http.StatusInternalServerError)
		return
	}
	renderJSON(w, http.StatusOK, models.TaskFlagResponse{Cleared: cleared})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			renderError(w, "Database unavailable", stringPtr(err.Error()), http.StatusServiceUnavailable)
			return
		}
	}
	renderJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, msg string, details *string, status int) {
	renderJSON(w, status, models.ErrorResponse{
		Error:   msg,
		Details: details,
	})
}

func stringPtr(v string) *string {
	return &v
}
