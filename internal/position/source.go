// Package position provides the streams of position samples that drive
// tracking.
package position

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
)

var (
	// ErrPermissionDenied is reported when the device refuses location access.
	// Tracking stops when it is received.
	ErrPermissionDenied = errors.Newf("location permission denied").
				Component("position").
				Category(errors.CategoryPermission).
				Sentinel().
				Build()

	// ErrPositionUnavailable is reported when no fix can be obtained
	ErrPositionUnavailable = errors.Newf("position unavailable").
				Component("position").
				Category(errors.CategoryLocation).
				Sentinel().
				Build()
)

// Source produces position samples. Watch returns channels that are closed
// when ctx is done or the source is exhausted.
type Source interface {
	Watch(ctx context.Context) (<-chan geo.Sample, <-chan error, error)
}

// Status codes carried by device status messages
const (
	StatusPermissionDenied = "permission_denied"
	StatusUnavailable      = "unavailable"
)

// locationPayload is the wire form of a sample. Timestamp is unix milliseconds.
type locationPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

type statusPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ParseSample decodes a location payload
func ParseSample(data []byte) (geo.Sample, error) {
	var p locationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return geo.Sample{}, invalidPayload(err)
	}
	if p.Latitude == nil || p.Longitude == nil {
		return geo.Sample{}, invalidPayload(errors.NewStd("latitude and longitude are required"))
	}

	ts := time.Now()
	if p.Timestamp > 0 {
		ts = time.UnixMilli(p.Timestamp)
	}
	s := geo.NewSample(*p.Latitude, *p.Longitude, ts)
	if err := s.Validate(); err != nil {
		return geo.Sample{}, err
	}
	return s, nil
}

// EncodeSample returns the wire form of s
func EncodeSample(s geo.Sample) []byte {
	lat, lon := s.Latitude, s.Longitude
	data, _ := json.Marshal(locationPayload{Latitude: &lat, Longitude: &lon, Timestamp: s.Timestamp.UnixMilli()})
	return data
}

// StatusError maps a device status code to an error. Unknown codes yield nil.
func StatusError(code, message string) error {
	var base error
	switch strings.ToLower(strings.TrimSpace(code)) {
	case StatusPermissionDenied:
		base = ErrPermissionDenied
	case StatusUnavailable:
		base = ErrPositionUnavailable
	default:
		return nil
	}
	if message == "" {
		return base
	}
	return errors.Join(base, errors.NewStd(message))
}

func invalidPayload(err error) error {
	return errors.New(err).
		Component("position").
		Category(errors.CategoryValidation).
		Build()
}

// sendLatest delivers s, discarding the oldest buffered samples when the
// consumer has fallen behind. It returns how many were discarded.
func sendLatest(ch chan geo.Sample, s geo.Sample) (dropped int) {
	for {
		select {
		case ch <- s:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped++
		default:
		}
	}
}

func sendError(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
