// Package connectivity tracks whether the network is reachable and notifies
// subscribers when that changes.
package connectivity

import (
	"context"
	"slices"
	"sync"

	"github.com/safetrack/safetrack/internal/logger"
)

// Subscriber receives the new state on every change
type Subscriber struct {
	ch     chan bool
	ctx    context.Context
	cancel context.CancelFunc
}

// Monitor holds the current online state. It performs no retries itself;
// probes and transport callbacks report into it via SetOnline.
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	subscribers []*Subscriber
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logger.Logger
}

// NewMonitor creates a monitor starting in the given state
func NewMonitor(online bool, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Global().Module("connectivity")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{online: online, ctx: ctx, cancel: cancel, logger: log}
}

// IsOnline reports the current state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers when it changed.
// It reports whether the state changed.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	m.logger.Info("connectivity changed", logger.Bool("online", online))

	m.subscribers = slices.DeleteFunc(m.subscribers, func(sub *Subscriber) bool {
		return sub.ctx.Err() != nil
	})
	for _, sub := range m.subscribers {
		deliverLatest(sub.ch, online)
	}
	return true
}

// deliverLatest sends v without blocking, replacing an unread older value so
// a slow subscriber always observes the most recent state.
func deliverLatest(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel receiving state changes and a context that is
// cancelled on Unsubscribe or Close.
func (m *Monitor) Subscribe() (<-chan bool, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithCancel(m.ctx)
	sub := &Subscriber{ch: make(chan bool, 1), ctx: ctx, cancel: cancel}
	m.subscribers = append(m.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes a subscription and cancels its context.
// The channel is not closed.
func (m *Monitor) Unsubscribe(ch <-chan bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub.ch == ch {
			sub.cancel()
			m.subscribers = slices.Delete(m.subscribers, i, i+1)
			return
		}
	}
}

// Close cancels every subscription
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	m.subscribers = nil
}
