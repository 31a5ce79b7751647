package cleanup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// Scheduling contract: the first pass waits out process warm-up, then the
// reconciler repeats on a fixed period for the life of the process.
const (
	defaultInitialDelay = 5 * time.Minute
	defaultInterval     = 6 * time.Hour
)

// LeadChecker is the slice of the CRM the reconciler needs: does an active
// waitlist lead exist for an email. Implemented by odoo.Service; tests
// substitute fakes.
type LeadChecker interface {
	LeadExists(ctx context.Context, email string) (bool, error)
	LeadExistsBulk(ctx context.Context, emails []string) (map[string]bool, error)
}

// Result counts one reconciliation pass.
type Result struct {
	Checked int `json:"checked"`
	Removed int `json:"removed"`
	Errors  int `json:"errors"`
}

// Status is the admin-surface view of the reconciler.
type Status struct {
	IsRunning bool        `json:"isRunning"`
	Stats     guard.Stats `json:"stats"`
}

// Scheduler periodically re-validates the guard's tracked emails against the
// CRM, removing entries whose lead has been deleted so the guard does not
// lock an email out forever after the business process changed externally.
type Scheduler struct {
	guard *guard.Guard
	leads LeadChecker

	// Reentrancy guard: a pass in flight makes further passes no-ops.
	running atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}

	initialDelay time.Duration
	interval     time.Duration
}

// NewScheduler wires the reconciler. It does not start anything; the hosting
// process owns the lifecycle via Start/Stop.
func NewScheduler(g *guard.Guard, leads LeadChecker) *Scheduler {
	return &Scheduler{
		guard:        g,
		leads:        leads,
		initialDelay: defaultInitialDelay,
		interval:     defaultInterval,
	}
}

// Start arms the periodic reconciliation: one pass after the initial delay,
// then one per interval. Calling Start on a started scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh

	go s.loop(stopCh)

	util.Info("Email reconciliation scheduler started",
		zap.Duration("initial_delay", s.initialDelay),
		zap.Duration("interval", s.interval),
	)
}

// Stop cancels the timer and makes Start re-armable. An in-flight pass is not
// aborted; it finishes and the running flag clears on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil

	util.Info("Email reconciliation scheduler stopped")
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		s.runPass()
	case <-stopCh:
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass()
		case <-stopCh:
			return
		}
	}
}

// runPass executes one scheduled pass. PerformCleanup absorbs every failure
// mode internally, so nothing here can kill the timer loop.
func (s *Scheduler) runPass() {
	result := s.PerformCleanup(context.Background())
	if result.Checked > 0 || result.Errors > 0 {
		util.Info("Scheduled email reconciliation completed",
			zap.Int("checked", result.Checked),
			zap.Int("removed", result.Removed),
			zap.Int("errors", result.Errors),
		)
	}
}

// PerformCleanup runs one reconciliation pass: collect the emails due for a
// CRM re-check, resolve their lead existence in a single bulk query, then
// drop the entries whose lead is gone and defer the rest. A pass already in
// progress makes this call return a zero result immediately.
func (s *Scheduler) PerformCleanup(ctx context.Context) Result {
	if !s.running.CompareAndSwap(false, true) {
		util.Debug("Email reconciliation already running, skipping")
		return Result{}
	}
	defer s.running.Store(false)

	emails := s.guard.EmailsDueForCheck()
	if len(emails) == 0 {
		return Result{}
	}

	util.Info("Reconciling tracked emails against CRM", zap.Int("count", len(emails)))

	existence, err := s.leads.LeadExistsBulk(ctx, emails)
	if err != nil {
		// Fail closed: an unreachable CRM must not free any email from
		// duplicate protection. Advancing lastChecked prevents the next
		// pass from hot-looping on the same failing batch.
		for _, email := range emails {
			s.guard.UpdateLastChecked(email)
		}
		util.Error("Bulk lead lookup failed, keeping all tracked emails",
			zap.Int("count", len(emails)),
			zap.Error(err),
		)
		return Result{Errors: 1}
	}

	var result Result
	for _, email := range emails {
		result.Checked++

		exists, ok := existence[email]
		if !ok {
			// The bulk contract promises an entry per input; treat a
			// hole as "exists" so the block stays in place.
			s.guard.UpdateLastChecked(email)
			result.Errors++
			continue
		}

		if exists {
			s.guard.UpdateLastChecked(email)
			continue
		}

		s.guard.RemoveSubmission(email)
		result.Removed++
		util.Info("Removed email tracking, lead no longer exists",
			zap.String("email", email),
		)
	}

	return result
}

// ForceCleanupEmail reconciles a single email immediately, bypassing the
// due-for-check predicate. Returns true when the tracking entry was removed.
// Lookup errors keep the entry: re-opening a possibly valid duplicate block
// is worse than one extra rejection.
func (s *Scheduler) ForceCleanupEmail(ctx context.Context, email string) bool {
	exists, err := s.leads.LeadExists(ctx, email)
	if err != nil {
		util.Error("Force cleanup lookup failed",
			zap.String("email", email),
			zap.Error(err),
		)
		return false
	}

	if !exists {
		s.guard.RemoveSubmission(email)
		util.Info("Force removed email tracking", zap.String("email", email))
		return true
	}

	s.guard.UpdateLastChecked(email)
	util.Debug("Email still has an active lead", zap.String("email", email))
	return false
}

// GetStatus reports whether a pass is in flight plus the guard's counters.
func (s *Scheduler) GetStatus() Status {
	return Status{
		IsRunning: s.running.Load(),
		Stats:     s.guard.Stats(),
	}
}
