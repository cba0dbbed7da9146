package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/safetrack/safetrack/internal/httpclient"
	"github.com/safetrack/safetrack/internal/logger"
)

// ProberConfig configures periodic reachability probing
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// Prober periodically issues HEAD requests and reports reachability to a Monitor.
// Any HTTP response below 500 counts as online.
type Prober struct {
	monitor *Monitor
	client  *httpclient.Client
	config  ProberConfig
	logger  logger.Logger
}

// NewProber creates a prober reporting into monitor
func NewProber(monitor *Monitor, client *httpclient.Client, config ProberConfig, log logger.Logger) *Prober {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Global().Module("connectivity")
	}
	return &Prober{monitor: monitor, client: client, config: config, logger: log.Module("prober")}
}

// Probe performs a single probe, updates the monitor and returns the result
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	status, err := p.client.Head(ctx, p.config.URL)
	online := err == nil && status < http.StatusInternalServerError
	if !online {
		p.logger.Debug("probe failed",
			logger.String("url", p.config.URL),
			logger.Int("status", status),
			logger.Error(err))
	}
	p.monitor.SetOnline(online)
	return online
}

// Run probes immediately and then on every interval until ctx is cancelled
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
