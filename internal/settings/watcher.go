package settings

import (
	"context"
	"log"
	"sync"
	"time"
)

// Source fetches the settings blob from wherever it lives.
type Source interface {
	Fetch(ctx context.Context) (Shift, error)
}

const (
	defaultPollInterval = 20 * time.Second
	fetchTimeout        = 10 * time.Second
)

// Watcher polls a Source and swaps validated snapshots into the Manager.
// A failed or invalid fetch keeps the previous snapshot; the outage is
// logged once, not on every tick.
type Watcher struct {
	source   Source
	manager  *Manager
	interval time.Duration
	logger   *log.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// OnChange, when set, is invoked after every successful swap with the
	// newly installed snapshot. Called from the watcher goroutine.
	OnChange func(Shift)

	mu       sync.Mutex
	failing  bool
	refreshs int
	failures int
}

func NewWatcher(source Source, manager *Manager, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		source:   source,
		manager:  manager,
		interval: interval,
		logger:   log.New(log.Writer(), "[SETTINGS] ", log.LstdFlags),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Printf("✅ Watcher started (interval: %v)", w.interval)
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Printf("🛑 Watcher stopped (refreshes: %d, failures: %d)", w.refreshs, w.failures)
}

func (w *Watcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.refresh(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// RefreshNow fetches once, outside the poll cadence. Used at startup so the
// kiosk boots with live settings when the source is reachable.
func (w *Watcher) RefreshNow(ctx context.Context) error {
	return w.refresh(ctx)
}

func (w *Watcher) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	w.mu.Lock()
	w.refreshs++
	w.mu.Unlock()

	next, err := w.source.Fetch(ctx)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		w.mu.Lock()
		w.failures++
		firstFailure := !w.failing
		w.failing = true
		w.mu.Unlock()
		if firstFailure {
			w.logger.Printf("⚠️ Refresh failed, keeping previous snapshot: %v", err)
		}
		return err
	}

	w.mu.Lock()
	recovered := w.failing
	w.failing = false
	w.mu.Unlock()
	if recovered {
		w.logger.Printf("✅ Source recovered")
	}

	if w.manager.Swap(next) {
		w.logger.Printf("🔄 Settings updated: cutoffs %s/%s, warmup %v/%d, mode %s",
			next.EarlyShiftMinClockout, next.RegularShiftMinClockout,
			next.WarmupEnabled, next.WarmupFrames, next.GroupCommitMode)
		if w.OnChange != nil {
			w.OnChange(next)
		}
	}
	return nil
}
