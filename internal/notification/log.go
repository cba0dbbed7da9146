package notification

import (
	"context"
	"slices"
	"sync"

	"github.com/safetrack/safetrack/internal/logger"
)

// DefaultMaxEntries bounds the log when no limit is configured
const DefaultMaxEntries = 500

const subscriberBuffer = 32

type logSubscriber struct {
	ch     chan Entry
	ctx    context.Context
	cancel context.CancelFunc
}

// Log is the append-only notification history, newest first. Entries past
// the capacity are dropped from the tail.
type Log struct {
	mu          sync.RWMutex
	entries     []Entry
	max         int
	subscribers []*logSubscriber
	onChange    func([]Entry)
	logger      logger.Logger
}

// NewLog creates a log holding up to maxEntries entries
func NewLog(maxEntries int, log logger.Logger) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &Log{max: maxEntries, logger: log}
}

// SetOnChange registers a hook receiving a snapshot after every append.
// The hook runs under the log lock so snapshots arrive in order.
func (l *Log) SetOnChange(fn func([]Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Append adds e at the head and broadcasts it to subscribers
func (l *Log) Append(e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = slices.Insert(l.entries, 0, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}

	if l.onChange != nil {
		l.onChange(slices.Clone(l.entries))
	}

	l.subscribers = slices.DeleteFunc(l.subscribers, func(s *logSubscriber) bool {
		return s.ctx.Err() != nil
	})
	for _, s := range l.subscribers {
		select {
		case s.ch <- e:
		default:
			l.logger.Warn("notification subscriber channel full, dropping entry",
				logger.String("entry_id", e.ID))
		}
	}
	return e
}

// List returns the entries newest first
func (l *Log) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Restore replaces the contents with entries, which must be newest first
func (l *Log) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = slices.Clone(entries)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}
}

// Subscribe returns a channel receiving each appended entry
func (l *Log) Subscribe() (<-chan Entry, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &logSubscriber{ch: make(chan Entry, subscriberBuffer), ctx: ctx, cancel: cancel}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, s)
	return s.ch, ctx
}

// Unsubscribe stops delivery to ch
func (l *Log) Unsubscribe(ch <-chan Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = slices.DeleteFunc(l.subscribers, func(s *logSubscriber) bool {
		if s.ch == ch {
			s.cancel()
			return true
		}
		return false
	})
}
