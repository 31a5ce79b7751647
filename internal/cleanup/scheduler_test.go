package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
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

type fakeLeadChecker struct {
	mu          sync.Mutex
	exists      map[string]bool
	err         error
	bulkCalls   int
	singleCalls int

	// When set, LeadExistsBulk signals entered and waits for release,
	// letting tests hold a pass in flight.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeLeadChecker) LeadExists(ctx context.Context, email string) (bool, error) {
	f.mu.Lock()
	f.singleCalls++
	f.mu.Unlock()

	if f.err != nil {
		return false, f.err
	}
	return f.exists[email], nil
}

func (f *fakeLeadChecker) LeadExistsBulk(ctx context.Context, emails []string) (map[string]bool, error) {
	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(emails))
	for _, email := range emails {
		out[email] = f.exists[email]
	}
	return out, nil
}

func (f *fakeLeadChecker) bulkCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bulkCalls
}

// newDueGuard returns a guard tracking the given emails, aged past both the
// freshness window and the recheck interval.
func newDueGuard(emails ...string) (*guard.Guard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
	g := guard.NewWithNow(clock.Now)
	for _, email := range emails {
		g.RecordSubmission(email)
	}
	clock.Advance(8 * 24 * time.Hour)
	return g, clock
}

func TestPerformCleanupRemovesStaleEntries(t *testing.T) {
	emails := make([]string, 5)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@example.com", i)
	}
	g, _ := newDueGuard(emails...)

	// Two of the five leads were deleted in the CRM.
	leads := &fakeLeadChecker{exists: map[string]bool{
		"user0@example.com": true,
		"user1@example.com": false,
		"user2@example.com": true,
		"user3@example.com": false,
		"user4@example.com": true,
	}}

	s := NewScheduler(g, leads)
	result := s.PerformCleanup(context.Background())

	if result.Checked != 5 || result.Removed != 2 || result.Errors != 0 {
		t.Fatalf("PerformCleanup = %+v, want {Checked:5 Removed:2 Errors:0}", result)
	}
	if leads.bulkCallCount() != 1 {
		t.Errorf("expected a single bulk lookup, got %d", leads.bulkCallCount())
	}

	// Removed entries no longer block resubmission.
	for _, email := range []string{"user1@example.com", "user3@example.com"} {
		if g.HasBeenSubmitted(email) {
			t.Errorf("%s should be free after removal", email)
		}
	}

	// Survivors had lastChecked advanced: blocked again, and no longer due.
	for _, email := range []string{"user0@example.com", "user2@example.com", "user4@example.com"} {
		if !g.HasBeenSubmitted(email) {
			t.Errorf("%s should still be a duplicate", email)
		}
	}
	if due := g.EmailsDueForCheck(); len(due) != 0 {
		t.Errorf("expected no emails due after the pass, got %v", due)
	}
}

func TestPerformCleanupNoCandidates(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	g := guard.NewWithNow(clock.Now)
	g.RecordSubmission("fresh@example.com")

	leads := &fakeLeadChecker{exists: map[string]bool{}}
	s := NewScheduler(g, leads)

	result := s.PerformCleanup(context.Background())
	if result != (Result{}) {
		t.Fatalf("PerformCleanup = %+v, want zero result", result)
	}
	if leads.bulkCallCount() != 0 {
		t.Error("no CRM call expected when nothing is due")
	}
}

func TestPerformCleanupReentrancy(t *testing.T) {
	g, _ := newDueGuard("held@example.com")
	leads := &fakeLeadChecker{
		exists:  map[string]bool{"held@example.com": true},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := NewScheduler(g, leads)

	firstDone := make(chan Result, 1)
	go func() {
		firstDone <- s.PerformCleanup(context.Background())
	}()
	<-leads.entered

	// Second pass while the first holds the CRM call: immediate zero result.
	if result := s.PerformCleanup(context.Background()); result != (Result{}) {
		t.Fatalf("overlapping PerformCleanup = %+v, want zero result", result)
	}
	if !s.GetStatus().IsRunning {
		t.Error("status should report a running pass")
	}

	close(leads.release)
	result := <-firstDone
	if result.Checked != 1 {
		t.Fatalf("first pass = %+v, want Checked:1", result)
	}
	if s.GetStatus().IsRunning {
		t.Error("running flag must clear when the pass finishes")
	}
}

func TestPerformCleanupBulkFailureFailsClosed(t *testing.T) {
	g, _ := newDueGuard("keep1@example.com", "keep2@example.com")
	leads := &fakeLeadChecker{err: errors.New("crm unreachable")}
	s := NewScheduler(g, leads)

	result := s.PerformCleanup(context.Background())
	if result.Errors != 1 || result.Checked != 0 || result.Removed != 0 {
		t.Fatalf("PerformCleanup = %+v, want {Checked:0 Removed:0 Errors:1}", result)
	}

	// Both entries survive, are duplicates again, and are deferred so the
	// next pass does not hot-loop on the failing batch.
	for _, email := range []string{"keep1@example.com", "keep2@example.com"} {
		if !g.HasBeenSubmitted(email) {
			t.Errorf("%s must stay blocked when the CRM is unreachable", email)
		}
	}
	if due := g.EmailsDueForCheck(); len(due) != 0 {
		t.Errorf("failed batch must be deferred, still due: %v", due)
	}
}

func TestForceCleanupEmail(t *testing.T) {
	t.Run("lead gone removes tracking", func(t *testing.T) {
		g, _ := newDueGuard("gone@example.com")
		leads := &fakeLeadChecker{exists: map[string]bool{"gone@example.com": false}}
		s := NewScheduler(g, leads)

		if !s.ForceCleanupEmail(context.Background(), "gone@example.com") {
			t.Fatal("expected removal when the lead is gone")
		}
		if g.HasBeenSubmitted("gone@example.com") {
			t.Error("removed email must be free for resubmission")
		}
	})

	t.Run("lead present refreshes lastChecked", func(t *testing.T) {
		g, _ := newDueGuard("active@example.com")
		leads := &fakeLeadChecker{exists: map[string]bool{"active@example.com": true}}
		s := NewScheduler(g, leads)

		if s.ForceCleanupEmail(context.Background(), "active@example.com") {
			t.Fatal("expected no removal for an active lead")
		}
		if due := g.EmailsDueForCheck(); len(due) != 0 {
			t.Errorf("active lead should be deferred, still due: %v", due)
		}
	})

	t.Run("lookup error keeps the block", func(t *testing.T) {
		g, _ := newDueGuard("unknown@example.com")
		leads := &fakeLeadChecker{err: errors.New("timeout")}
		s := NewScheduler(g, leads)

		if s.ForceCleanupEmail(context.Background(), "unknown@example.com") {
			t.Fatal("a failed lookup must not remove tracking")
		}
		if stats := g.Stats(); stats.TotalEmailSubmissions != 1 {
			t.Errorf("tracking entry lost on error, stats %+v", stats)
		}
	})
}

func TestSchedulerLifecycle(t *testing.T) {
	g, clock := newDueGuard("cycle@example.com")
	leads := &fakeLeadChecker{exists: map[string]bool{"cycle@example.com": false}}

	s := NewScheduler(g, leads)
	s.initialDelay = 10 * time.Millisecond
	s.interval = time.Hour

	s.Start()
	s.Start() // second Start must not arm a second timer

	waitFor(t, func() bool { return leads.bulkCallCount() == 1 })
	time.Sleep(30 * time.Millisecond)
	if got := leads.bulkCallCount(); got != 1 {
		t.Fatalf("expected exactly one initial pass, got %d", got)
	}

	// Stop, re-arm, and confirm the restarted scheduler runs again.
	s.Stop()
	s.Stop() // idempotent

	// The first pass removed the entry; track it again and age it so the
	// restarted scheduler has work to do.
	g.RecordSubmission("cycle@example.com")
	clock.Advance(8 * 24 * time.Hour)

	s.Start()
	waitFor(t, func() bool { return leads.bulkCallCount() == 2 })
	s.Stop()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
