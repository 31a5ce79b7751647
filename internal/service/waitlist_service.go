package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertec-io/hyperfactory-waitlist/internal/client"
	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
	"github.com/vertec-io/hyperfactory-waitlist/internal/odoo"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// Machine-readable outcome codes returned to the client.
const (
	CodeBotDetected           = "BOT_DETECTED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInvalidJSON           = "INVALID_JSON"
	CodeMissingRequiredFields = "MISSING_REQUIRED_FIELDS"
	CodeInvalidEmail          = "INVALID_EMAIL"
	CodeInvalidName           = "INVALID_NAME"
	CodeAlreadySubmitted      = "ALREADY_SUBMITTED"
	CodeAlreadyExists         = "ALREADY_EXISTS"
	CodeInternalError         = "INTERNAL_ERROR"
)

const welcomeEmailBudget = 10 * time.Second

// CRM is the slice of the Odoo service the submission flow needs.
// Implemented by odoo.Service; tests substitute fakes.
type CRM interface {
	FindOrCreateTag(ctx context.Context) (int64, error)
	FindOrCreateTeam(ctx context.Context) (int64, error)
	FindOrCreatePartner(ctx context.Context, sub odoo.Submission) (int64, error)
	CreateLead(ctx context.Context, sub odoo.Submission, partnerID, tagID, teamID int64) (int64, error)
	FindLead(ctx context.Context, email string) (*odoo.Lead, error)
	SendWelcomeEmail(ctx context.Context, leadID int64) error
}

// ClientMeta carries per-request client identity used by the admission
// checks and the audit trail.
type ClientMeta struct {
	IP        string
	UserAgent string
	Headers   http.Header
	RequestID string
}

// Outcome is the structured result of one submission attempt. Status is the
// HTTP status the handler should respond with; Error is the user-facing
// rejection text, Message the friendly companion text on success-like
// outcomes.
type Outcome struct {
	Status     int
	Success    bool
	Code       string
	Error      string
	Message    string
	RetryAfter int
	LeadID     int64
}

// WaitlistService runs the full admission-and-signup pipeline for waitlist
// submissions. The Kafka publisher and ClickHouse sink are optional; either
// may be nil.
type WaitlistService struct {
	guard  *guard.Guard
	crm    CRM
	events *client.EventPublisher
	audit  *client.AuditSink
}

func NewWaitlistService(g *guard.Guard, crm CRM, events *client.EventPublisher, audit *client.AuditSink) *WaitlistService {
	return &WaitlistService{
		guard:  g,
		crm:    crm,
		events: events,
		audit:  audit,
	}
}

// Submit gates the request through bot detection, rate limiting, validation
// and duplicate checks, then creates the CRM lead and triggers the welcome
// email. Rejections return early without touching CRM state.
func (s *WaitlistService) Submit(ctx context.Context, sub odoo.Submission, meta ClientMeta) Outcome {
	out := s.submit(ctx, sub, meta)
	// Precheck rejections are recorded where they happen.
	if out.Code != CodeBotDetected && out.Code != CodeRateLimited {
		s.recordOutcome(sub, meta, out)
	}
	return out
}

// Precheck runs the admission checks that precede body parsing: bot
// detection and rate limiting. It returns false with a rejection outcome
// when the request must not proceed.
func (s *WaitlistService) Precheck(meta ClientMeta) (Outcome, bool) {
	if s.guard.IsBot(meta.UserAgent, meta.Headers) {
		util.Warn("Bot detected",
			zap.String("ip", meta.IP),
			zap.String("user_agent", meta.UserAgent),
			zap.String("request_id", meta.RequestID),
		)
		out := Outcome{
			Status: http.StatusBadRequest,
			Code:   CodeBotDetected,
			Error:  "Invalid request",
		}
		s.recordOutcome(odoo.Submission{}, meta, out)
		return out, false
	}

	if limit := s.guard.CheckRateLimit(meta.IP); limit.Limited {
		retryAfter := limit.RetryAfterSeconds()
		out := Outcome{
			Status:     http.StatusTooManyRequests,
			Code:       CodeRateLimited,
			Error:      fmt.Sprintf("Too many requests. Please try again in %d seconds.", retryAfter),
			RetryAfter: retryAfter,
		}
		s.recordOutcome(odoo.Submission{}, meta, out)
		return out, false
	}

	return Outcome{}, true
}

func (s *WaitlistService) submit(ctx context.Context, sub odoo.Submission, meta ClientMeta) Outcome {
	if out, ok := s.Precheck(meta); !ok {
		return out
	}

	sub.Name = strings.TrimSpace(sub.Name)
	sub.Email = strings.TrimSpace(sub.Email)
	if sub.Name == "" || sub.Email == "" {
		return Outcome{
			Status: http.StatusBadRequest,
			Code:   CodeMissingRequiredFields,
			Error:  "Name and email are required",
		}
	}
	if !s.guard.ValidEmail(sub.Email) {
		return Outcome{
			Status: http.StatusBadRequest,
			Code:   CodeInvalidEmail,
			Error:  "Invalid email format",
		}
	}
	if !s.guard.ValidName(sub.Name) {
		return Outcome{
			Status: http.StatusBadRequest,
			Code:   CodeInvalidName,
			Error:  "Invalid name format",
		}
	}

	if s.guard.HasBeenSubmitted(sub.Email) {
		return alreadyOnWaitlist(CodeAlreadySubmitted)
	}

	s.guard.RecordAttempt(meta.IP)

	existing, err := s.crm.FindLead(ctx, sub.Email)
	if err != nil {
		util.Error("Existing-lead lookup failed",
			util.ErrorField(err),
			zap.String("request_id", meta.RequestID),
		)
		return internalError()
	}
	if existing != nil {
		// Track the email locally so the next attempt short-circuits
		// without a CRM round trip.
		s.guard.RecordSubmission(sub.Email)
		return alreadyOnWaitlist(CodeAlreadyExists)
	}

	var tagID, teamID int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		tagID, err = s.crm.FindOrCreateTag(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		teamID, err = s.crm.FindOrCreateTeam(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		util.Error("Failed to resolve CRM tag/team",
			util.ErrorField(err),
			zap.String("request_id", meta.RequestID),
		)
		return internalError()
	}

	partnerID, err := s.crm.FindOrCreatePartner(ctx, sub)
	if err != nil {
		util.Error("Failed to resolve CRM partner",
			util.ErrorField(err),
			zap.String("request_id", meta.RequestID),
		)
		return internalError()
	}

	leadID, err := s.crm.CreateLead(ctx, sub, partnerID, tagID, teamID)
	if err != nil {
		util.Error("Failed to create CRM lead",
			util.ErrorField(err),
			zap.String("request_id", meta.RequestID),
		)
		return internalError()
	}

	// Welcome email is fire-and-forget with its own deadline: a slow mail
	// server must not hold up the signup response.
	go func() {
		mailCtx, cancel := context.WithTimeout(context.Background(), welcomeEmailBudget)
		defer cancel()
		if err := s.crm.SendWelcomeEmail(mailCtx, leadID); err != nil {
			util.Error("Failed to send welcome email",
				util.ErrorField(err),
				zap.Int64("lead_id", leadID),
			)
		}
	}()

	s.guard.RecordSubmission(sub.Email)

	util.Info("Waitlist signup accepted",
		zap.String("email", sub.Email),
		zap.Int64("lead_id", leadID),
		zap.String("request_id", meta.RequestID),
	)

	return Outcome{
		Status:  http.StatusCreated,
		Success: true,
		Code:    "",
		Message: "Welcome to the HyperFactory waitlist! Check your email for confirmation.",
		LeadID:  leadID,
	}
}

// recordOutcome ships the attempt to the optional analytics sinks. Both are
// best effort and run off the request goroutine.
func (s *WaitlistService) recordOutcome(sub odoo.Submission, meta ClientMeta, out Outcome) {
	if s.events == nil && s.audit == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		code := out.Code
		if out.Success {
			code = "ACCEPTED"
		}

		if s.events != nil {
			event := client.SubmissionEvent{
				Email:     sub.Email,
				Name:      sub.Name,
				Company:   sub.Company,
				LeadID:    out.LeadID,
				Outcome:   code,
				Timestamp: time.Now().UTC(),
			}
			if err := s.events.PublishSubmission(ctx, event); err != nil {
				util.Warn("Failed to publish submission event", util.ErrorField(err))
			}
		}

		if s.audit != nil {
			entry := client.AuditEntry{
				Timestamp: time.Now().UTC(),
				RequestID: meta.RequestID,
				IP:        meta.IP,
				Email:     sub.Email,
				Outcome:   code,
				LeadID:    out.LeadID,
			}
			if err := s.audit.Record(ctx, entry); err != nil {
				util.Warn("Failed to record audit row", util.ErrorField(err))
			}
		}
	}()
}

func alreadyOnWaitlist(code string) Outcome {
	return Outcome{
		Status:  http.StatusConflict,
		Code:    code,
		Error:   "You are already on our waitlist! We'll be in touch soon.",
		Message: "Thank you for your interest! You're already registered for early access.",
	}
}

func internalError() Outcome {
	return Outcome{
		Status: http.StatusInternalServerError,
		Code:   CodeInternalError,
		Error:  "An error occurred while processing your request. Please try again later.",
	}
}
