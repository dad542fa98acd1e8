package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/faucetdb/keysmith/internal/telemetry"
)

type blockingTouchStore struct {
	release chan struct{}
	mu      sync.Mutex
	ids     []string
}

func (b *blockingTouchStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	<-b.release
	b.mu.Lock()
	b.ids = append(b.ids, id)
	b.mu.Unlock()
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestToucherDropsWhenFull(t *testing.T) {
	st := &blockingTouchStore{release: make(chan struct{})}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	tc := NewToucher(st, 1, discardLogger(), metrics)

	// The worker holds at most one update while the queue holds one more.
	accepted := 0
	for i := 0; i < 10; i++ {
		if tc.Touch("k", time.Now()) {
			accepted++
		}
	}
	if accepted < 1 || accepted > 2 {
		t.Fatalf("accepted %d updates, want 1 or 2", accepted)
	}
	if got := counterValue(t, reg, "keysmith_touch_dropped_total"); got != float64(10-accepted) {
		t.Errorf("dropped counter: got %v, want %d", got, 10-accepted)
	}

	close(st.release)
	tc.Close()

	if len(st.ids) != accepted {
		t.Errorf("applied %d updates, want %d", len(st.ids), accepted)
	}
}

func TestToucherCloseDrains(t *testing.T) {
	st := &blockingTouchStore{release: make(chan struct{})}
	close(st.release)
	tc := NewToucher(st, 8, discardLogger(), nil)

	for _, id := range []string{"a", "b", "c"} {
		if !tc.Touch(id, time.Now()) {
			t.Fatalf("Touch(%s) dropped", id)
		}
	}
	tc.Close()

	if len(st.ids) != 3 {
		t.Fatalf("applied %d updates, want 3", len(st.ids))
	}
	if tc.Touch("d", time.Now()) {
		t.Error("Touch after Close should be rejected")
	}
	tc.Close() // second Close is a no-op
}
