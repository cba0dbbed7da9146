package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/observability/metrics"
)

// client implements the Client interface.
type client struct {
	config         Config
	internalClient paho.Client
	mu             sync.Mutex
	subscriptions  map[string]MessageHandler
	onConnection   func(connected bool)
	metrics        *metrics.MQTTMetrics
	logger         logger.Logger
}

// ConfigFromSettings builds a Config from the mqtt settings section
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.QoS = byte(s.QoS)
	if s.ConnectTimeout > 0 {
		cfg.ConnectTimeout = s.ConnectTimeout
	}
	if s.PublishTimeout > 0 {
		cfg.PublishTimeout = s.PublishTimeout
	}
	return cfg
}

// NewClient creates an unconnected client. onConnection, when set, is called
// on every connect and connection loss; m may be nil.
func NewClient(config Config, onConnection func(bool), m *metrics.MQTTMetrics, log logger.Logger) (Client, error) {
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	u, err := url.Parse(config.Broker)
	if err != nil || u.Host == "" {
		return nil, errors.Newf("invalid broker URL %q", config.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.ClientID == "" {
		config.ClientID = "safetrack"
	}
	return &client{
		config:        config,
		subscriptions: make(map[string]MessageHandler),
		onConnection:  onConnection,
		metrics:       m,
		logger:        log.With(logger.String("broker", u.Redacted())),
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return connectionError(err, "parse_broker")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			c.metrics.RecordError("resolve")
			return connectionError(err, "resolve")
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectDelay)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.mu.Lock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	c.internalClient = paho.NewClient(opts)
	pc := c.internalClient
	c.mu.Unlock()

	token := pc.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		c.metrics.RecordError("connect")
		return connectionError(err, "connect")
	}
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload string) error {
	pc := c.paho()
	if pc == nil || !pc.IsConnected() {
		c.metrics.RecordError("publish")
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := pc.Publish(topic, c.config.QoS, false, payload)
	err := waitToken(ctx, token, c.config.PublishTimeout)
	c.metrics.RecordPublish(err, time.Since(start))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	c.logger.Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// Subscribe registers handler for topic
func (c *client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	pc := c.internalClient
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		// subscribed on the next connect
		return nil
	}
	return c.subscribe(ctx, pc, topic, handler)
}

func (c *client) subscribe(ctx context.Context, pc paho.Client, topic string, handler MessageHandler) error {
	token := pc.Subscribe(topic, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if err := waitToken(ctx, token, c.config.PublishTimeout); err != nil {
		c.metrics.RecordError("subscribe")
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	c.logger.Debug("subscribed", logger.String("topic", topic))
	return nil
}

// Unsubscribe removes the subscription for topic
func (c *client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	pc := c.internalClient
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		return nil
	}
	return waitToken(ctx, pc.Unsubscribe(topic), c.config.PublishTimeout)
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	pc := c.paho()
	return pc != nil && pc.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	pc := c.paho()
	if pc != nil && pc.IsConnected() {
		pc.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
		c.notify(false)
	}
}

func (c *client) paho() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient
}

func (c *client) onConnect(pc paho.Client) {
	c.logger.Info("connected to MQTT broker")
	c.metrics.UpdateConnectionStatus(true)

	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subscriptions))
	for topic, h := range c.subscriptions {
		subs[topic] = h
	}
	c.mu.Unlock()

	// paho calls this on its own goroutine; blocking on tokens here is fine
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	for topic, h := range subs {
		if err := c.subscribe(ctx, pc, topic, h); err != nil {
			c.logger.Warn("failed to restore subscription",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}
	c.notify(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.RecordError("connection_lost")
	c.notify(false)
}

func (c *client) notify(connected bool) {
	if c.onConnection != nil {
		c.onConnection(connected)
	}
}

// waitToken waits for token, ctx or timeout, whichever comes first
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Newf("operation timed out after %s", timeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
}

func connectionError(err error, op string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTConnection).
		Context("operation", op).
		Build()
}
