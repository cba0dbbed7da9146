package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safetrack/safetrack/internal/errors"
)

// Fallback reasons reported by Record.Load
const (
	ReasonMalformed = "malformed"
	ReasonVersion   = "version"
	ReasonInvalid   = "invalid"
	ReasonRead      = "read"
)

// envelope is the stored form of every record
type envelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	Payload json.RawMessage `json:"payload"`
}

// Record describes one typed, versioned value in a KV. Load always produces
// a value: anything unreadable falls back to Default.
type Record[T any] struct {
	Key      string
	Version  int
	Default  func() T
	Validate func(T) error // optional
}

// Load reads the record. A missing key yields Default with a nil error. A
// malformed, outdated or invalid payload yields Default and a
// persistence-failure error whose context names the reason.
func (r Record[T]) Load(ctx context.Context, kv KV) (T, error) {
	data, err := kv.Get(ctx, r.Key)
	if errors.Is(err, ErrNotFound) {
		return r.Default(), nil
	}
	if err != nil {
		return r.Default(), r.failure(err, ReasonRead)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return r.Default(), r.failure(err, ReasonMalformed)
	}
	if env.Version != r.Version {
		return r.Default(), r.failure(
			fmt.Errorf("stored version %d, expected %d", env.Version, r.Version), ReasonVersion)
	}

	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return r.Default(), r.failure(err, ReasonMalformed)
	}
	if r.Validate != nil {
		if err := r.Validate(v); err != nil {
			return r.Default(), r.failure(err, ReasonInvalid)
		}
	}
	return v, nil
}

// Save writes v under the record's key and version
func (r Record[T]) Save(ctx context.Context, kv KV, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return r.failure(err, ReasonMalformed)
	}
	data, err := json.Marshal(envelope{Version: r.Version, SavedAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return r.failure(err, ReasonMalformed)
	}
	if err := kv.Put(ctx, r.Key, data); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryPersistence).
			Context("key", r.Key).
			Build()
	}
	return nil
}

func (r Record[T]) failure(err error, reason string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryPersistence).
		Context("key", r.Key).
		Context("reason", reason).
		Build()
}

// FallbackReason returns the reason recorded by Load, or "" when err carries none
func FallbackReason(err error) string {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return ""
	}
	reason, _ := ee.GetContext()["reason"].(string)
	return reason
}
