package datastore

import (
	"context"
	"time"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/observability/metrics"
)

// InstrumentedKV records the outcome and latency of every operation
type InstrumentedKV struct {
	KV
	metrics *metrics.DatastoreMetrics
}

// Instrument wraps kv. A nil m returns kv unchanged.
func Instrument(kv KV, m *metrics.DatastoreMetrics) KV {
	if m == nil {
		return kv
	}
	return &InstrumentedKV{KV: kv, metrics: m}
}

// Get implements KV
func (i *InstrumentedKV) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := i.KV.Get(ctx, key)
	recorded := err
	if errors.Is(err, ErrNotFound) {
		recorded = nil
	}
	i.metrics.RecordOperation("get", key, recorded, time.Since(start))
	return v, err
}

// Put implements KV
func (i *InstrumentedKV) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.KV.Put(ctx, key, value)
	i.metrics.RecordOperation("put", key, err, time.Since(start))
	return err
}
