package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/cleanup"
	"github.com/vertec-io/hyperfactory-waitlist/internal/config"
	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// CleanupHandler exposes the administrative reconciliation surface: status,
// manual triggers, and unconditional tracking removal. In production every
// route requires the cleanup API key.
type CleanupHandler struct {
	scheduler *cleanup.Scheduler
	guard     *guard.Guard
	cfg       *config.Config
}

func NewCleanupHandler(scheduler *cleanup.Scheduler, g *guard.Guard, cfg *config.Config) *CleanupHandler {
	return &CleanupHandler{
		scheduler: scheduler,
		guard:     g,
		cfg:       cfg,
	}
}

func (h *CleanupHandler) RegisterRoutes(router chi.Router) {
	router.Route("/cleanup-emails", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Get("/", h.Status)
		r.Post("/", h.Trigger)
		r.Delete("/", h.Remove)
	})
}

// requireAPIKey gates the admin surface in production. Development skips the
// check so the routes stay usable locally without secrets.
func (h *CleanupHandler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.IsProduction() {
			auth := r.Header.Get("Authorization")
			if auth == "" || auth != "Bearer "+h.cfg.Admin.CleanupAPIKey {
				respondWithJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Unauthorized",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type cleanupStatusResponse struct {
	Success   bool        `json:"success"`
	IsRunning bool        `json:"isRunning"`
	Stats     guard.Stats `json:"stats"`
}

// Status reports whether a reconciliation pass is in flight plus the guard's
// table counters.
func (h *CleanupHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.scheduler.GetStatus()
	respondWithJSON(w, http.StatusOK, cleanupStatusResponse{
		Success:   true,
		IsRunning: status.IsRunning,
		Stats:     status.Stats,
	})
}

type cleanupTriggerRequest struct {
	Email string `json:"email"`
	Force bool   `json:"force"`
}

// Trigger runs a reconciliation on demand: with {email, force:true} a single
// email is re-checked against the CRM, otherwise a full pass runs.
func (h *CleanupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req cleanupTriggerRequest
	// An empty or absent body means a full pass.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.Email != "" && req.Force {
		removed := h.scheduler.ForceCleanupEmail(r.Context(), req.Email)
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"action":  "force_cleanup",
			"email":   req.Email,
			"removed": removed,
		})
		return
	}

	result := h.scheduler.PerformCleanup(r.Context())
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"action":  "full_cleanup",
		"checked": result.Checked,
		"removed": result.Removed,
		"errors":  result.Errors,
	})
}

// Remove drops an email's tracking entry without consulting the CRM. This is
// the administrative override for a wrongly blocked address.
func (h *CleanupHandler) Remove(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Email parameter is required",
		})
		return
	}

	h.guard.RemoveSubmission(email)
	util.Info("Admin removed email tracking", zap.String("email", email))

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"action":  "force_remove",
		"email":   email,
		"removed": true,
	})
}
