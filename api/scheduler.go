/*
scheduler.go - Automated daily sweep scheduler

PURPOSE:
  Periodically triggers the daily debit sweep so the service does not
  depend on an external cron. The sweep itself is idempotent per calendar
  day, so frequent checks are harmless.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Enforces the morning cutoff: the engine skips the sweep before the
    configured hour in the configured timezone
  - Stores already debited today are skipped by the engine

USAGE:
  scheduler := NewSweepScheduler(service)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CronDaily and RunNow endpoints (external triggers)
  - registry/debit.go: the sweep rule
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/saldo/store-balance-engine/ops"
)

// SweepScheduler runs the daily debit sweep in the background.
type SweepScheduler struct {
	Service       *ops.Service
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan bool
	stopped bool
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(service *ops.Service) *SweepScheduler {
	return &SweepScheduler{
		Service:       service,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler. Safe to call more than once.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker == nil || ss.stopped {
		return
	}
	ss.stopped = true
	ss.ticker.Stop()
	close(ss.stop)
	ss.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.checkAndSweep()

	for {
		select {
		case <-ss.ticker.C:
			ss.checkAndSweep()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) checkAndSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := ss.Service.RunSweep(ctx, time.Now(), true, "scheduler")
	if err != nil {
		log.Printf("[Scheduler] Sweep failed: %v", err)
		return
	}
	if out.Changed > 0 {
		log.Printf("[Scheduler] Swept %s: %d stores debited", out.DateKey, out.Changed)
	}
}
