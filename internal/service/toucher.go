package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/faucetdb/keysmith/internal/telemetry"
)

// DefaultTouchQueue is the default capacity of the last-used update queue.
const DefaultTouchQueue = 1024

const touchTimeout = 5 * time.Second

type touch struct {
	id string
	at time.Time
}

// Toucher applies last-used updates in the background. Updates are queued
// without blocking; when the queue is full they are dropped. A lost update
// never affects an authentication decision.
type Toucher struct {
	store   LastUsedStore
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan touch
	done   chan struct{}
}

// NewToucher starts a Toucher with the given queue capacity.
func NewToucher(store LastUsedStore, capacity int, logger *slog.Logger, metrics *telemetry.Metrics) *Toucher {
	if capacity <= 0 {
		capacity = DefaultTouchQueue
	}
	t := &Toucher{
		store:   store,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan touch, capacity),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Touch queues a last-used update for id. It reports false if the update
// was dropped.
func (t *Toucher) Touch(id string, at time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.queue <- touch{id: id, at: at}:
		return true
	default:
		t.metrics.TouchDropped()
		return false
	}
}

// Close stops accepting updates, applies those already queued and waits for
// the worker to exit.
func (t *Toucher) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Toucher) run() {
	defer close(t.done)
	for u := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		if err := t.store.TouchLastUsed(ctx, u.id, u.at); err != nil {
			t.logger.Warn("failed to update api key last used", "key_id", u.id, "error", err)
		}
		cancel()
	}
}
