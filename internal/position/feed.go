package position

import (
	"context"
	"sync"

	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/logger"
)

// Feed is a Source driven by Push and Fail calls, used by the HTTP API and
// tests. Only one watcher is active at a time; values pushed while nobody
// watches are dropped.
type Feed struct {
	mu      sync.Mutex
	samples chan geo.Sample
	errs    chan error
	dropped int
}

// NewFeed creates an idle feed
func NewFeed() *Feed {
	return &Feed{}
}

// Watch starts a new watch, replacing any previous one
func (f *Feed) Watch(ctx context.Context) (<-chan geo.Sample, <-chan error, error) {
	samples := make(chan geo.Sample, sampleBuffer)
	errs := make(chan error, errorBuffer)

	f.mu.Lock()
	f.closeLocked()
	f.samples, f.errs = samples, errs
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.samples == samples {
			f.closeLocked()
		}
	}()
	return samples, errs, nil
}

// Push delivers a sample, reporting whether a watcher received it
func (f *Feed) Push(s geo.Sample) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.samples == nil {
		return false
	}
	if dropped := sendLatest(f.samples, s); dropped > 0 {
		f.dropped += dropped
		logger.Global().Module("position").Warn("position consumer is behind, dropped oldest sample",
			logger.Int("dropped", dropped),
			logger.Int("dropped_total", f.dropped))
	}
	return true
}

// Dropped returns how many pushed samples were discarded because the
// watcher had fallen behind
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Fail delivers a source error, reporting whether a watcher received it
func (f *Feed) Fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil || f.errs == nil {
		return false
	}
	sendError(f.errs, err)
	return true
}

// Watching reports whether a watch is active
func (f *Feed) Watching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples != nil
}

func (f *Feed) closeLocked() {
	if f.samples != nil {
		close(f.samples)
		close(f.errs)
		f.samples, f.errs = nil, nil
	}
}
