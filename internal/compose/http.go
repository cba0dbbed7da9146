package compose

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/httpclient"
	"github.com/safetrack/safetrack/internal/logger"
)

// HTTPConfig configures the remote composition client
type HTTPConfig struct {
	Endpoint  string
	APIKey    string
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
	CacheTTL  time.Duration // 0 disables caching
}

// HTTPComposer asks a remote service to write the message. Identical requests
// within CacheTTL reuse the previous answer.
type HTTPComposer struct {
	config  HTTPConfig
	client  *httpclient.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	log     logger.Logger
}

type composeRequest struct {
	LocationName string `json:"locationName"`
	EventType    string `json:"eventType"`
	Time         string `json:"time"`
	UserName     string `json:"userName"`
	Relationship string `json:"relationship"`
}

type composeResponse struct {
	Message string `json:"message"`
}

// NewHTTPComposer creates a composer posting to config.Endpoint
func NewHTTPComposer(config HTTPConfig, client *httpclient.Client, log logger.Logger) (*HTTPComposer, error) {
	if config.Endpoint == "" {
		return nil, errors.Newf("composition endpoint is required").
			Component("compose").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	if log == nil {
		log = logger.Global().Module("compose")
	}

	c := &HTTPComposer{config: config, client: client, log: log}
	if config.RateLimit > 0 {
		burst := max(config.Burst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	if config.CacheTTL > 0 {
		c.cache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}
	return c, nil
}

// Compose posts the request and returns the service's message
func (c *HTTPComposer) Compose(ctx context.Context, req Request) (string, error) {
	body := composeRequest{
		LocationName: req.LocationName,
		EventType:    string(req.EventType),
		Time:         req.FormattedTime(),
		UserName:     req.UserName,
		Relationship: req.Relationship,
	}

	key := cacheKey(body)
	if c.cache != nil {
		if msg, ok := c.cache.Get(key); ok {
			c.log.Debug("composition cache hit", logger.String("location", req.LocationName))
			return msg.(string), nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", compositionError(fmt.Errorf("rate limiter: %w", err), req, "http")
		}
	}

	start := time.Now()
	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.config.APIKey
	}

	var resp composeResponse
	if err := c.client.PostJSON(ctx, c.config.Endpoint, headers, body, &resp); err != nil {
		c.log.Warn("composition request failed",
			logger.String("location", req.LocationName),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return "", compositionError(err, req, "http")
	}

	msg, err := checkMessage(resp.Message)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		c.cache.SetDefault(key, msg)
	}
	c.log.Debug("composed message",
		logger.String("location", req.LocationName),
		logger.Duration("elapsed", time.Since(start)))
	return msg, nil
}

func cacheKey(r composeRequest) string {
	return r.LocationName + "\x00" + r.EventType + "\x00" + r.Time + "\x00" + r.UserName + "\x00" + r.Relationship
}
