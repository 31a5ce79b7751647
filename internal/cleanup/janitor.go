package cleanup

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/guard"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

const defaultJanitorInterval = 30 * time.Minute

// Janitor owns the guard's periodic table eviction. The guard exposes
// Cleanup as a plain callable and never schedules itself; this is the
// external scheduler that invokes it.
type Janitor struct {
	guard    *guard.Guard
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

func NewJanitor(g *guard.Guard) *Janitor {
	return &Janitor{
		guard:    g,
		interval: defaultJanitorInterval,
	}
}

// Start arms the eviction ticker. Idempotent.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	j.stopCh = stopCh

	go j.loop(stopCh)

	util.Info("Guard janitor started", zap.Duration("interval", j.interval))
}

// Stop cancels the ticker and makes Start re-armable.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopCh == nil {
		return
	}
	close(j.stopCh)
	j.stopCh = nil
}

func (j *Janitor) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rates, emails := j.guard.Cleanup()
			if rates > 0 || emails > 0 {
				util.Info("Guard tables cleaned",
					zap.Int("rate_entries", rates),
					zap.Int("email_entries", emails),
				)
			}
		case <-stopCh:
			return
		}
	}
}
