package guard

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Admission-control configuration. The windows are deliberately encoded as
// comparisons against stored timestamps rather than explicit states; state is
// derived at query time so it can never drift from the clock.
const (
	maxAttempts     = 3
	rateLimitWindow = time.Minute
	blockDuration   = 15 * time.Minute

	// Email duplicate protection: a submission is authoritative for seven
	// days; after that it is re-validated against the CRM at most once per
	// recheck interval. Entries are hard-evicted after thirty days no
	// matter what the reconciler saw.
	minTimeSinceSubmission = 7 * 24 * time.Hour
	recheckInterval        = 24 * time.Hour
	submissionTTL          = 30 * 24 * time.Hour
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var botKeywords = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python",
	"requests",
}

var suspiciousNameKeywords = []string{
	"test",
	"admin",
	"null",
	"undefined",
}

var allDigitsPattern = regexp.MustCompile(`^[0-9]+$`)

// Guard is the per-process admission-control layer for waitlist submissions.
// It owns two independent tracking tables: per-IP attempt counters and
// per-email submission records. Both are process-local and in-memory; they do
// not survive restarts and are not shared across instances.
type Guard struct {
	mu          sync.Mutex
	rates       map[string]*rateLimitEntry
	submissions map[string]*submissionEntry

	now func() time.Time
}

// New creates an empty guard.
func New() *Guard {
	return NewWithNow(time.Now)
}

// NewWithNow creates a guard using the supplied clock. Tests use it to drive
// the time-window state machines deterministically.
func NewWithNow(now func() time.Time) *Guard {
	return &Guard{
		rates:       make(map[string]*rateLimitEntry),
		submissions: make(map[string]*submissionEntry),
		now:         now,
	}
}

// Stats is a read-only snapshot of the guard's tables for the admin surface.
type Stats struct {
	TotalEmailSubmissions  int `json:"totalEmailSubmissions"`
	EmailsNeedingOdooCheck int `json:"emailsNeedingOdooCheck"`
	RateLimitEntries       int `json:"rateLimitEntries"`
}

// Stats returns observability counters over both tables.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	due := 0
	for _, entry := range g.submissions {
		if entry.dueForCheck(now) {
			due++
		}
	}

	return Stats{
		TotalEmailSubmissions:  len(g.submissions),
		EmailsNeedingOdooCheck: due,
		RateLimitEntries:       len(g.rates),
	}
}

// Cleanup evicts rate-limit entries whose last attempt predates the window
// plus block duration, and email entries older than the hard thirty-day TTL.
// It is invoked on a fixed interval by the janitor; the guard never schedules
// itself.
func (g *Guard) Cleanup() (rateEntries, emailEntries int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	expiredThreshold := rateLimitWindow + blockDuration

	for ip, entry := range g.rates {
		if now.Sub(entry.lastAttempt) > expiredThreshold {
			delete(g.rates, ip)
			rateEntries++
		}
	}

	for email, entry := range g.submissions {
		if now.Sub(entry.submittedAt) > submissionTTL {
			delete(g.submissions, email)
			emailEntries++
		}
	}

	return rateEntries, emailEntries
}

// IsBot applies the bot heuristic: an absent user agent, a known automation
// keyword in the user agent, or any of the three headers every real browser
// sends being missing.
func (g *Guard) IsBot(userAgent string, headers http.Header) bool {
	if userAgent == "" {
		return true
	}

	lowered := strings.ToLower(userAgent)
	for _, keyword := range botKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}

	for _, name := range []string{"Accept", "Accept-Language", "Accept-Encoding"} {
		if headers.Get(name) == "" {
			return true
		}
	}

	return false
}

// ValidEmail checks the email shape. Intentionally simple; the CRM is the
// final arbiter of deliverability.
func (g *Guard) ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidName rejects names that are too short or long, all-digit strings,
// markup characters, and throwaway keywords anywhere in the string. The
// keyword match is a substring check and will reject legitimate names that
// contain one ("Testimonial Jones"); accepted false-positive behavior.
func (g *Guard) ValidName(name string) bool {
	length := utf8.RuneCountInString(name)
	if length < 2 || length > 100 {
		return false
	}

	if allDigitsPattern.MatchString(name) {
		return false
	}
	if strings.ContainsAny(name, "<>") {
		return false
	}

	lowered := strings.ToLower(name)
	for _, keyword := range suspiciousNameKeywords {
		if strings.Contains(lowered, keyword) {
			return false
		}
	}

	return true
}
