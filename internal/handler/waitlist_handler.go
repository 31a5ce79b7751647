package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vertec-io/hyperfactory-waitlist/internal/odoo"
	"github.com/vertec-io/hyperfactory-waitlist/internal/service"
)

// WaitlistHandler handles HTTP requests for waitlist signups
type WaitlistHandler struct {
	waitlist *service.WaitlistService
}

func NewWaitlistHandler(waitlist *service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

func (h *WaitlistHandler) RegisterRoutes(router chi.Router) {
	router.Post("/waitlist", h.Submit)
}

type waitlistRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
}

// waitlistResponse is the wire shape the frontend form consumes.
type waitlistResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	LeadID     int64  `json:"leadId,omitempty"`
}

// Submit handles a waitlist signup
func (h *WaitlistHandler) Submit(w http.ResponseWriter, r *http.Request) {
	meta := service.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Headers:   r.Header,
		RequestID: middleware.GetReqID(r.Context()),
	}

	// Admission checks come before body parsing so abusive clients get
	// the rejection they earned rather than a parse error.
	if out, ok := h.waitlist.Precheck(meta); !ok {
		if out.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(out.RetryAfter))
		}
		respondWithJSON(w, out.Status, waitlistResponse{
			Error:      out.Error,
			Code:       out.Code,
			RetryAfter: out.RetryAfter,
		})
		return
	}

	var req waitlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, waitlistResponse{
			Error: "Invalid JSON in request body",
			Code:  service.CodeInvalidJSON,
		})
		return
	}

	sub := odoo.Submission{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
	}

	out := h.waitlist.Submit(r.Context(), sub, meta)
	if out.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(out.RetryAfter))
	}

	respondWithJSON(w, out.Status, waitlistResponse{
		Success:    out.Success,
		Error:      out.Error,
		Code:       out.Code,
		Message:    out.Message,
		RetryAfter: out.RetryAfter,
		LeadID:     out.LeadID,
	})
}

// clientIP strips the port from RemoteAddr, which the RealIP middleware has
// already rewritten from X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
