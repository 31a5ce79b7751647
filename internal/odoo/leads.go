package odoo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// CRM naming for everything this product touches. Leads belonging to the
// waitlist are identified by the tag, never by email alone, so the same
// contact can hold unrelated leads in the same Odoo instance.
const (
	tagName      = "HyperFactory"
	tagColorGold = 3
	teamName     = "HyperFactory Waitlist"
	teamAlias    = "hyperfactory-waitlist"
	templateName = "HyperFactory Waitlist Welcome"
)

// Submission carries the lead fields collected by the waitlist form.
type Submission struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

// Lead is the subset of crm.lead this service reads back.
type Lead struct {
	ID        int64
	Name      string
	EmailFrom string
}

// Service implements the CRM operations the waitlist needs on top of the
// XML-RPC client. Tag, team, and template ids are resolved once and cached.
type Service struct {
	client *Client
	logger *zap.Logger

	mu         sync.Mutex
	tagID      int64
	teamID     int64
	templateID int64
}

func NewService(client *Client, logger *zap.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// FindOrCreateTag resolves the waitlist tag, creating it on first use.
func (s *Service) FindOrCreateTag(ctx context.Context) (int64, error) {
	s.mu.Lock()
	cached := s.tagID
	s.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	domain := []interface{}{
		[]interface{}{"name", "=", tagName},
	}
	records, err := s.client.SearchRead(ctx, "crm.tag", domain, []string{"id", "name"}, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to search for %s tag: %w", tagName, err)
	}

	var id int64
	if len(records) > 0 {
		id, _ = asInt64(records[0]["id"])
	} else {
		id, err = s.client.Create(ctx, "crm.tag", map[string]interface{}{
			"name":  tagName,
			"color": tagColorGold,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to create %s tag: %w", tagName, err)
		}
		util.Info("Created CRM tag", zap.String("name", tagName), zap.Int64("id", id))
	}

	s.mu.Lock()
	s.tagID = id
	s.mu.Unlock()
	return id, nil
}

// FindOrCreateTeam resolves the waitlist sales team, creating it on first use.
func (s *Service) FindOrCreateTeam(ctx context.Context) (int64, error) {
	s.mu.Lock()
	cached := s.teamID
	s.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	domain := []interface{}{
		[]interface{}{"name", "=", teamName},
	}
	records, err := s.client.SearchRead(ctx, "crm.team", domain, []string{"id", "name"}, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to search for %s team: %w", teamName, err)
	}

	var id int64
	if len(records) > 0 {
		id, _ = asInt64(records[0]["id"])
	} else {
		id, err = s.client.Create(ctx, "crm.team", map[string]interface{}{
			"name":       teamName,
			"alias_name": teamAlias,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to create %s team: %w", teamName, err)
		}
		util.Info("Created CRM sales team", zap.String("name", teamName), zap.Int64("id", id))
	}

	s.mu.Lock()
	s.teamID = id
	s.mu.Unlock()
	return id, nil
}

// FindOrCreatePartner resolves the contact for a submission by email,
// refreshing name and phone on an existing contact.
func (s *Service) FindOrCreatePartner(ctx context.Context, sub Submission) (int64, error) {
	domain := []interface{}{
		[]interface{}{"email", "=", sub.Email},
	}
	records, err := s.client.SearchRead(ctx, "res.partner", domain, []string{"id", "name", "phone"}, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to search for partner: %w", err)
	}

	if len(records) > 0 {
		id, _ := asInt64(records[0]["id"])
		values := map[string]interface{}{"name": sub.Name}
		if sub.Phone != "" {
			values["phone"] = sub.Phone
		}
		if err := s.client.Write(ctx, "res.partner", []int64{id}, values); err != nil {
			return 0, fmt.Errorf("failed to update partner %d: %w", id, err)
		}
		return id, nil
	}

	values := map[string]interface{}{
		"name":       sub.Name,
		"email":      sub.Email,
		"is_company": false,
	}
	if sub.Phone != "" {
		values["phone"] = sub.Phone
	}

	id, err := s.client.Create(ctx, "res.partner", values)
	if err != nil {
		return 0, fmt.Errorf("failed to create partner: %w", err)
	}
	return id, nil
}

// CreateLead inserts the waitlist lead linked to the partner, tag, and team.
func (s *Service) CreateLead(ctx context.Context, sub Submission, partnerID, tagID, teamID int64) (int64, error) {
	description := "Waitlist submission from HyperFactory website."
	if sub.Company != "" {
		description += "\nCompany: " + sub.Company
	}

	values := map[string]interface{}{
		"name":         fmt.Sprintf("%s - %s", teamName, sub.Name),
		"email_from":   sub.Email,
		"partner_id":   partnerID,
		"partner_name": sub.Name,
		// Many2many replace command: (6, 0, ids)
		"tag_ids":     []interface{}{[]interface{}{6, 0, []int64{tagID}}},
		"team_id":     teamID,
		"type":        "lead",
		"description": description,
	}
	if sub.Phone != "" {
		values["phone"] = sub.Phone
	}

	id, err := s.client.Create(ctx, "crm.lead", values)
	if err != nil {
		return 0, fmt.Errorf("failed to create lead: %w", err)
	}

	util.Info("Created waitlist lead",
		zap.Int64("lead_id", id),
		zap.String("email", sub.Email),
	)
	return id, nil
}

// FindLead returns the waitlist lead for email, or nil if none exists.
func (s *Service) FindLead(ctx context.Context, email string) (*Lead, error) {
	tagID, err := s.FindOrCreateTag(ctx)
	if err != nil {
		return nil, err
	}

	domain := []interface{}{
		[]interface{}{"email_from", "=", email},
		[]interface{}{"tag_ids", "in", []int64{tagID}},
	}
	records, err := s.client.SearchRead(ctx, "crm.lead", domain, []string{"id", "name", "email_from"}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to search for lead: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	lead := &Lead{}
	lead.ID, _ = asInt64(records[0]["id"])
	lead.Name, _ = asString(records[0]["name"])
	lead.EmailFrom, _ = asString(records[0]["email_from"])
	return lead, nil
}

// LeadExists reports whether an active waitlist lead exists for email.
func (s *Service) LeadExists(ctx context.Context, email string) (bool, error) {
	lead, err := s.FindLead(ctx, email)
	if err != nil {
		return false, err
	}
	return lead != nil, nil
}

// LeadExistsBulk answers the existence question for every input email in one
// CRM round trip. The result always carries an entry per input. Transport
// errors propagate to the caller instead of being flattened into "does not
// exist": an unreachable CRM must keep duplicate protection in place, not
// open it.
func (s *Service) LeadExistsBulk(ctx context.Context, emails []string) (map[string]bool, error) {
	results := make(map[string]bool, len(emails))
	if len(emails) == 0 {
		return results, nil
	}

	tagID, err := s.FindOrCreateTag(ctx)
	if err != nil {
		return nil, err
	}

	domain := []interface{}{
		[]interface{}{"email_from", "in", emails},
		[]interface{}{"tag_ids", "in", []int64{tagID}},
	}
	records, err := s.client.SearchRead(ctx, "crm.lead", domain, []string{"email_from"}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed bulk lead lookup for %d emails: %w", len(emails), err)
	}

	existing := make(map[string]struct{}, len(records))
	for _, record := range records {
		if email, ok := asString(record["email_from"]); ok {
			existing[strings.ToLower(email)] = struct{}{}
		}
	}

	for _, email := range emails {
		_, found := existing[strings.ToLower(email)]
		results[email] = found
	}
	return results, nil
}

// SendWelcomeEmail renders the welcome template against the lead and asks
// Odoo to send it immediately. raise_exception stays off so a broken mail
// server cannot fail the lead creation that already succeeded.
func (s *Service) SendWelcomeEmail(ctx context.Context, leadID int64) error {
	templateID, err := s.findOrCreateTemplate(ctx)
	if err != nil {
		return err
	}

	_, err = s.client.ExecuteKw(ctx, "mail.template", "send_mail",
		[]interface{}{templateID, leadID},
		map[string]interface{}{
			"force_send":      true,
			"raise_exception": false,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to send welcome email for lead %d: %w", leadID, err)
	}

	util.Info("Welcome email queued", zap.Int64("lead_id", leadID))
	return nil
}

func (s *Service) findOrCreateTemplate(ctx context.Context) (int64, error) {
	s.mu.Lock()
	cached := s.templateID
	s.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	domain := []interface{}{
		[]interface{}{"name", "=", templateName},
	}
	records, err := s.client.SearchRead(ctx, "mail.template", domain, []string{"id", "name"}, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to search for mail template: %w", err)
	}

	var id int64
	if len(records) > 0 {
		id, _ = asInt64(records[0]["id"])
	} else {
		modelID, err := s.modelID(ctx, "crm.lead")
		if err != nil {
			return 0, err
		}
		id, err = s.client.Create(ctx, "mail.template", map[string]interface{}{
			"name":           templateName,
			"model_id":       modelID,
			"subject":        "Welcome to the HyperFactory Waitlist!",
			"email_from":     "HyperFactory <waitlist@vertec.com>",
			"email_to":       "${object.email_from}",
			"use_default_to": true,
			"auto_delete":    false,
			"body_html": "<p>Welcome to the HyperFactory waitlist, ${object.partner_name}!</p>" +
				"<p>You're on the list for early access. We'll be in touch soon.</p>",
		})
		if err != nil {
			return 0, fmt.Errorf("failed to create mail template: %w", err)
		}
		util.Info("Created welcome mail template", zap.Int64("id", id))
	}

	s.mu.Lock()
	s.templateID = id
	s.mu.Unlock()
	return id, nil
}

func (s *Service) modelID(ctx context.Context, model string) (int64, error) {
	domain := []interface{}{
		[]interface{}{"model", "=", model},
	}
	records, err := s.client.SearchRead(ctx, "ir.model", domain, []string{"id"}, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to look up model %s: %w", model, err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("model %s not found", model)
	}
	id, _ := asInt64(records[0]["id"])
	return id, nil
}
