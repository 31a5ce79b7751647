package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vertec-io/hyperfactory-waitlist/internal/config"
)

const gateCookieName = "launchkc-access"

// GateHandler implements the access-code gate for the pre-launch pages. A
// correct code sets a short-lived verified cookie the frontend checks.
type GateHandler struct {
	cfg *config.Config
}

func NewGateHandler(cfg *config.Config) *GateHandler {
	return &GateHandler{cfg: cfg}
}

func (h *GateHandler) RegisterRoutes(router chi.Router) {
	router.Route("/launchkc-auth", func(r chi.Router) {
		r.Post("/", h.Verify)
		r.Get("/", h.Check)
		r.Delete("/", h.Logout)
	})
}

type gateRequest struct {
	AccessCode string `json:"accessCode"`
}

// Verify checks the submitted access code and sets the gate cookie.
func (h *GateHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req gateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "Invalid request body",
		})
		return
	}

	code := h.cfg.Gate.AccessCode
	if code == "" || !strings.EqualFold(req.AccessCode, code) {
		respondWithJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   "Invalid access code",
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     gateCookieName,
		Value:    "verified",
		Path:     "/",
		MaxAge:   24 * 60 * 60,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Check reports whether the gate cookie is present and verified.
func (h *GateHandler) Check(w http.ResponseWriter, r *http.Request) {
	authenticated := false
	if cookie, err := r.Cookie(gateCookieName); err == nil {
		authenticated = cookie.Value == "verified"
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": authenticated,
	})
}

// Logout clears the gate cookie.
func (h *GateHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     gateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out",
	})
}
