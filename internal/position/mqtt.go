package position

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/mqtt"
	"github.com/safetrack/safetrack/internal/observability/metrics"
)

const (
	sampleBuffer = 16
	errorBuffer  = 8
)

// Subscriber is the part of the MQTT client the source needs
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler mqtt.MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
}

// MQTTConfig selects the device topics
type MQTTConfig struct {
	TopicPrefix   string
	DeviceID      string
	SampleTimeout time.Duration // silence after which ErrPositionUnavailable is reported, 0 disables
}

// LocationTopic returns <prefix>/<device>/location
func (c MQTTConfig) LocationTopic() string { return c.TopicPrefix + "/" + c.DeviceID + "/location" }

// StatusTopic returns <prefix>/<device>/status
func (c MQTTConfig) StatusTopic() string { return c.TopicPrefix + "/" + c.DeviceID + "/status" }

// MQTTSource reads samples published by a device over MQTT
type MQTTSource struct {
	client  Subscriber
	config  MQTTConfig
	metrics *metrics.MQTTMetrics
	logger  logger.Logger
}

// NewMQTTSource creates a source over client. m may be nil.
func NewMQTTSource(client Subscriber, config MQTTConfig, m *metrics.MQTTMetrics, log logger.Logger) *MQTTSource {
	if log == nil {
		log = logger.Global().Module("position")
	}
	return &MQTTSource{client: client, config: config, metrics: m, logger: log.Module("mqtt")}
}

// Watch subscribes to the device topics until ctx is done
func (s *MQTTSource) Watch(ctx context.Context) (<-chan geo.Sample, <-chan error, error) {
	samples := make(chan geo.Sample, sampleBuffer)
	errs := make(chan error, errorBuffer)

	var mu sync.Mutex
	closed := false
	heard := make(chan struct{}, 1)

	onLocation := func(topic string, payload []byte) {
		s.metrics.RecordReceived("location")
		sample, err := ParseSample(payload)
		if err != nil {
			s.logger.Warn("discarding invalid location payload",
				logger.String("topic", topic),
				logger.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if dropped := sendLatest(samples, sample); dropped > 0 {
			s.metrics.RecordReceived("dropped")
			s.logger.Warn("position consumer is behind, dropped oldest sample",
				logger.String("topic", topic),
				logger.Int("dropped", dropped))
		}
		select {
		case heard <- struct{}{}:
		default:
		}
	}

	onStatus := func(topic string, payload []byte) {
		s.metrics.RecordReceived("status")
		var st statusPayload
		if err := json.Unmarshal(payload, &st); err != nil {
			s.logger.Warn("discarding invalid status payload", logger.String("topic", topic), logger.Error(err))
			return
		}
		err := StatusError(st.Code, st.Message)
		if err == nil {
			s.logger.Debug("ignoring device status", logger.String("code", st.Code))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			sendError(errs, err)
		}
	}

	if err := s.client.Subscribe(ctx, s.config.LocationTopic(), onLocation); err != nil {
		return nil, nil, err
	}
	if err := s.client.Subscribe(ctx, s.config.StatusTopic(), onStatus); err != nil {
		_ = s.client.Unsubscribe(context.WithoutCancel(ctx), s.config.LocationTopic())
		return nil, nil, err
	}
	s.logger.Info("watching device position",
		logger.String("location_topic", s.config.LocationTopic()),
		logger.String("status_topic", s.config.StatusTopic()))

	go func() {
		defer func() {
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = s.client.Unsubscribe(cleanup, s.config.LocationTopic())
			_ = s.client.Unsubscribe(cleanup, s.config.StatusTopic())

			mu.Lock()
			closed = true
			close(samples)
			close(errs)
			mu.Unlock()
		}()
		s.watchSilence(ctx, heard, func(err error) {
			mu.Lock()
			defer mu.Unlock()
			sendError(errs, err)
		})
	}()

	return samples, errs, nil
}

// watchSilence reports ErrPositionUnavailable once per silent period
func (s *MQTTSource) watchSilence(ctx context.Context, heard <-chan struct{}, report func(error)) {
	if s.config.SampleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(s.config.SampleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heard:
			timer.Reset(s.config.SampleTimeout)
		case <-timer.C:
			s.logger.Warn("no position received", logger.Duration("timeout", s.config.SampleTimeout))
			report(ErrPositionUnavailable)
		}
	}
}
