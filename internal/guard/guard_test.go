package guard

import (
	"net/http"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestGuard() (*Guard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithNow(clock.Now), clock
}

func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	return h
}

func TestIsBot(t *testing.T) {
	g, _ := newTestGuard()

	tests := []struct {
		name      string
		userAgent string
		headers   http.Header
		want      bool
	}{
		{
			name:      "python requests library",
			userAgent: "python-requests/2.28",
			headers:   browserHeaders(),
			want:      true,
		},
		{
			name:      "realistic browser",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			headers:   browserHeaders(),
			want:      false,
		},
		{
			name:      "empty user agent",
			userAgent: "",
			headers:   browserHeaders(),
			want:      true,
		},
		{
			name:      "curl",
			userAgent: "curl/8.4.0",
			headers:   browserHeaders(),
			want:      true,
		},
		{
			name:      "crawler keyword case insensitive",
			userAgent: "MegaCorp-Crawler/1.0",
			headers:   browserHeaders(),
			want:      true,
		},
		{
			name:      "browser UA missing accept-language",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
			headers: func() http.Header {
				h := browserHeaders()
				h.Del("Accept-Language")
				return h
			}(),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.IsBot(tt.userAgent, tt.headers); got != tt.want {
				t.Errorf("IsBot(%q) = %v, want %v", tt.userAgent, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	g, _ := newTestGuard()

	tests := []struct {
		email string
		want  bool
	}{
		{"a@b.co", true},
		{"jane.doe+waitlist@factory.example.com", true},
		{"not-an-email", false},
		{"", false},
		{"two words@example.com", false},
		{"missing@tld", false},
		{"@example.com", false},
	}

	for _, tt := range tests {
		if got := g.ValidEmail(tt.email); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestValidName(t *testing.T) {
	g, _ := newTestGuard()

	tests := []struct {
		name string
		want bool
	}{
		{"Jane Doe", true},
		{"Li", true},
		{"Test User", false},
		// Substring keyword match rejects this on purpose.
		{"Testimonial Jones", false},
		{"admin", false},
		{"NULL", false},
		{"12345", false},
		{"<script>", false},
		{"J", false},
	}

	for _, tt := range tests {
		if got := g.ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCleanupEvictsExpiredEntries(t *testing.T) {
	g, clock := newTestGuard()

	g.RecordAttempt("10.0.0.1")
	g.RecordSubmission("old@example.com")

	clock.Advance(20 * time.Minute)
	g.RecordAttempt("10.0.0.2")
	g.RecordSubmission("fresh@example.com")

	// 10.0.0.1 is now idle past window+block; old@ is still inside 30 days.
	rates, emails := g.Cleanup()
	if rates != 1 {
		t.Errorf("Cleanup removed %d rate entries, want 1", rates)
	}
	if emails != 0 {
		t.Errorf("Cleanup removed %d email entries, want 0", emails)
	}

	clock.Advance(31 * 24 * time.Hour)
	_, emails = g.Cleanup()
	if emails != 2 {
		t.Errorf("Cleanup removed %d email entries after 31 days, want 2", emails)
	}

	stats := g.Stats()
	if stats.TotalEmailSubmissions != 0 || stats.RateLimitEntries != 0 {
		t.Errorf("expected empty tables after cleanup, got %+v", stats)
	}
}

func TestStats(t *testing.T) {
	g, clock := newTestGuard()

	g.RecordSubmission("due@example.com")
	g.RecordAttempt("10.1.1.1")

	clock.Advance(8 * 24 * time.Hour)
	g.RecordSubmission("fresh@example.com")

	stats := g.Stats()
	if stats.TotalEmailSubmissions != 2 {
		t.Errorf("TotalEmailSubmissions = %d, want 2", stats.TotalEmailSubmissions)
	}
	if stats.EmailsNeedingOdooCheck != 1 {
		t.Errorf("EmailsNeedingOdooCheck = %d, want 1", stats.EmailsNeedingOdooCheck)
	}
	if stats.RateLimitEntries != 1 {
		t.Errorf("RateLimitEntries = %d, want 1", stats.RateLimitEntries)
	}
}
