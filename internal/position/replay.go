package position

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/logger"
)

// ReplaySource plays back a JSON lines file. Each line is either a location
// payload or a status payload such as {"code":"permission_denied"}. Blank
// lines and lines starting with # are skipped.
type ReplaySource struct {
	open     func() (io.ReadCloser, error)
	interval time.Duration
	logger   logger.Logger
}

// NewReplayFile creates a source reading path
func NewReplayFile(path string, interval time.Duration, log logger.Logger) *ReplaySource {
	return newReplay(func() (io.ReadCloser, error) { return os.Open(path) }, interval, log)
}

// NewReplayReader creates a source reading data
func NewReplayReader(data []byte, interval time.Duration, log logger.Logger) *ReplaySource {
	return newReplay(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, interval, log)
}

func newReplay(open func() (io.ReadCloser, error), interval time.Duration, log logger.Logger) *ReplaySource {
	if log == nil {
		log = logger.Global().Module("position")
	}
	return &ReplaySource{open: open, interval: interval, logger: log.Module("replay")}
}

// Watch plays the file once. Samples are delivered unbuffered so the
// consumer sees every line in order.
func (r *ReplaySource) Watch(ctx context.Context) (<-chan geo.Sample, <-chan error, error) {
	rc, err := r.open()
	if err != nil {
		return nil, nil, errors.New(err).
			Component("position").
			Category(errors.CategoryConfiguration).
			Build()
	}

	samples := make(chan geo.Sample)
	errs := make(chan error)

	go func() {
		defer close(errs)
		defer close(samples)
		defer rc.Close()

		scanner := bufio.NewScanner(rc)
		line := 0
		first := true
		for scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 || text[0] == '#' {
				continue
			}

			if !first && r.interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.interval):
				}
			}
			first = false

			if err := r.emit(ctx, text, samples, errs); err != nil {
				r.logger.Warn("skipping replay line", logger.Int("line", line), logger.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			r.logger.Error("replay read failed", logger.Error(err))
		}
	}()
	return samples, errs, nil
}

func (r *ReplaySource) emit(ctx context.Context, text []byte, samples chan<- geo.Sample, errs chan<- error) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(text, &probe); err != nil {
		return invalidPayload(err)
	}

	if _, ok := probe["code"]; ok {
		var st statusPayload
		if err := json.Unmarshal(text, &st); err != nil {
			return invalidPayload(err)
		}
		statusErr := StatusError(st.Code, st.Message)
		if statusErr == nil {
			return invalidPayload(errors.NewStd("unknown status code " + st.Code))
		}
		select {
		case errs <- statusErr:
		case <-ctx.Done():
		}
		return nil
	}

	sample, err := ParseSample(text)
	if err != nil {
		return err
	}
	select {
	case samples <- sample:
	case <-ctx.Done():
	}
	return nil
}
