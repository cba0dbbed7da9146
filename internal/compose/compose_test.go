package compose

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/httpclient"
	"github.com/safetrack/safetrack/internal/logger"
)

const testEndpoint = "https://compose.example.test/v1/alerts"

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

func testRequest() Request {
	return Request{
		LocationName: "Home",
		EventType:    geofence.Arrival,
		Time:         time.Date(2024, 5, 1, 14, 30, 5, 0, time.UTC),
		UserName:     "Ana",
		Relationship: "Mother",
	}
}

func newMockComposer(t *testing.T, cfg HTTPConfig) (*HTTPComposer, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)

	if cfg.Endpoint == "" {
		cfg.Endpoint = testEndpoint
	}
	c, err := NewHTTPComposer(cfg, client, quietLogger())
	require.NoError(t, err)
	return c, transport
}

func TestTemplateComposer(t *testing.T) {
	t.Parallel()

	c, err := NewTemplateComposer(
		"{{.UserName}} arrived at {{.LocationName}} at {{.Time}} ({{.Relationship}})",
		"{{.UserName}} left {{.LocationName}}")
	require.NoError(t, err)

	msg, err := c.Compose(t.Context(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Ana arrived at Home at 2:30:05 PM (Mother)", msg)

	req := testRequest()
	req.EventType = geofence.Departure
	msg, err = c.Compose(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "Ana left Home", msg)
}

func TestTemplateComposer_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewTemplateComposer("{{.UserName", "ok")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	c, err := NewTemplateComposer("   ", "x")
	require.NoError(t, err)
	_, err = c.Compose(t.Context(), testRequest())
	require.ErrorIs(t, err, ErrEmptyMessage)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = c.Compose(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryComposition))
}

func TestHTTPComposer_PostsRequest(t *testing.T) {
	t.Parallel()

	c, transport := newMockComposer(t, HTTPConfig{APIKey: "k3y"})
	transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer k3y", req.Header.Get("Authorization"))

		var body map[string]string
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		assert.Equal(t, map[string]string{
			"locationName": "Home",
			"eventType":    "arrival",
			"time":         "2:30:05 PM",
			"userName":     "Ana",
			"relationship": "Mother",
		}, body)
		return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"message": "Ana is home safe."})
	})

	msg, err := c.Compose(t.Context(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Ana is home safe.", msg)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHTTPComposer_CachesIdenticalRequests(t *testing.T) {
	t.Parallel()

	c, transport := newMockComposer(t, HTTPConfig{CacheTTL: time.Minute})
	transport.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"message":"hi"}`))

	for range 3 {
		msg, err := c.Compose(t.Context(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, "hi", msg)
	}
	assert.Equal(t, 1, transport.GetTotalCallCount())

	other := testRequest()
	other.Relationship = "Friend"
	_, err := c.Compose(t.Context(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestHTTPComposer_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
		{"empty message", httpmock.NewStringResponder(http.StatusOK, `{"message":"  "}`)},
		{"malformed body", httpmock.NewStringResponder(http.StatusOK, `{"message":`)},
		{"transport error", httpmock.NewErrorResponder(errors.NewStd("connection refused"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, transport := newMockComposer(t, HTTPConfig{CacheTTL: time.Minute})
			transport.RegisterResponder(http.MethodPost, testEndpoint, tt.responder)

			msg, err := c.Compose(t.Context(), testRequest())
			require.Error(t, err)
			assert.Empty(t, msg)
			assert.True(t, errors.IsCategory(err, errors.CategoryComposition), "got %v", err)
		})
	}
}

func TestHTTPComposer_RateLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	c, transport := newMockComposer(t, HTTPConfig{RateLimit: 0.001, Burst: 1})
	transport.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"message":"hi"}`))

	_, err := c.Compose(t.Context(), testRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Compose(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestNew_SelectsProvider(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults().Compose
	c, err := New(&settings, nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &TemplateComposer{}, c)

	settings.Provider = "http"
	settings.Endpoint = testEndpoint
	c, err = New(&settings, nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &HTTPComposer{}, c)

	settings.Provider = "carrier-pigeon"
	_, err = New(&settings, nil, quietLogger())
	require.Error(t, err)
}
