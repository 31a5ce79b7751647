package guard

import (
	"strings"
	"time"
)

// submissionEntry tracks one email that reached the CRM. lastChecked starts
// equal to submittedAt and advances each time the reconciler confirms the
// lead still exists.
type submissionEntry struct {
	email       string
	submittedAt time.Time
	lastChecked time.Time
}

// dueForCheck reports whether the entry is old enough that its CRM lead
// should be re-validated: past the authoritative freshness window and not
// re-checked within the recheck interval.
func (e *submissionEntry) dueForCheck(now time.Time) bool {
	return now.Sub(e.submittedAt) > minTimeSinceSubmission &&
		now.Sub(e.lastChecked) > recheckInterval
}

// HasBeenSubmitted reports whether email is currently treated as a duplicate.
// An entry due for re-validation is optimistically reported as available: the
// caller is expected to consult the CRM before finalizing, then record the
// outcome. The predicate itself never mutates state.
func (g *Guard) HasBeenSubmitted(email string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.submissions[normalizeEmail(email)]
	if !ok {
		return false
	}

	if entry.dueForCheck(g.now()) {
		return false
	}

	return true
}

// RecordSubmission marks email as submitted now. Re-recording an existing
// email restarts both its freshness window and its recheck clock.
func (g *Guard) RecordSubmission(email string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := normalizeEmail(email)
	g.submissions[key] = &submissionEntry{
		email:       key,
		submittedAt: now,
		lastChecked: now,
	}
}

// UpdateLastChecked defers the next reconciliation for email by the recheck
// interval. No-op for untracked emails.
func (g *Guard) UpdateLastChecked(email string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.submissions[normalizeEmail(email)]; ok {
		entry.lastChecked = g.now()
	}
}

// RemoveSubmission drops email from duplicate tracking, freeing it for
// resubmission.
func (g *Guard) RemoveSubmission(email string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.submissions, normalizeEmail(email))
}

// EmailsDueForCheck returns every tracked email whose CRM lead is due for
// re-validation. This is the same predicate HasBeenSubmitted uses to decide
// optimistic acceptance.
func (g *Guard) EmailsDueForCheck() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var due []string
	for email, entry := range g.submissions {
		if entry.dueForCheck(now) {
			due = append(due, email)
		}
	}
	return due
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
