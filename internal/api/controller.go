package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/notification"
	"github.com/safetrack/safetrack/internal/position"
)

// Engine is the UI-facing contract served by the API
type Engine interface {
	Geofences() []geofence.Geofence
	AddGeofence(name string, radius float64) (geofence.Geofence, error)
	RemoveGeofence(id string) bool
	Notifications() []notification.Entry
	SubscribeNotifications() (<-chan notification.Entry, context.Context)
	UnsubscribeNotifications(ch <-chan notification.Entry)
	PendingAlerts() []notification.PendingAlert
	LastKnownLocation() *geo.Sample
	SetLocation(s geo.Sample) error
	SetTracking(ctx context.Context, enabled bool) error
	IsTracking() bool
	IsOnline() bool
	Panic() notification.Entry
	Profile() notification.Profile
	UpdateProfile(p notification.Profile) (notification.Profile, error)
}

// maxLocationBody bounds a pushed position payload
const maxLocationBody = 4 << 10

// Controller holds the route handlers
type Controller struct {
	engine Engine
	feed   *position.Feed
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func newController(g *echo.Group, engine Engine, feed *position.Feed, log logger.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{engine: engine, feed: feed, logger: log, ctx: ctx, cancel: cancel}

	g.GET("/health", c.Health)
	g.GET("/status", c.GetStatus)

	g.GET("/geofences", c.ListGeofences)
	g.POST("/geofences", c.CreateGeofence)
	g.DELETE("/geofences/:id", c.DeleteGeofence)

	g.GET("/notifications", c.ListNotifications)
	g.GET("/notifications/stream", c.StreamNotifications)
	g.GET("/alerts/pending", c.ListPendingAlerts)

	g.PUT("/tracking", c.SetTracking)
	g.POST("/panic", c.Panic)

	g.GET("/profile", c.GetProfile)
	g.PUT("/profile", c.UpdateProfile)

	g.POST("/location", c.PostLocation)
	g.POST("/location/status", c.PostLocationStatus)
	return c
}

func (c *Controller) shutdown() {
	c.cancel()
}

// StatusResponse summarizes the engine state
type StatusResponse struct {
	Tracking          bool        `json:"tracking"`
	Online            bool        `json:"online"`
	Geofences         int         `json:"geofences"`
	PendingAlerts     int         `json:"pendingAlerts"`
	LastKnownLocation *geo.Sample `json:"lastKnownLocation"`
}

// Health reports liveness
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// GetStatus handles GET /status
func (c *Controller) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatusResponse{
		Tracking:          c.engine.IsTracking(),
		Online:            c.engine.IsOnline(),
		Geofences:         len(c.engine.Geofences()),
		PendingAlerts:     len(c.engine.PendingAlerts()),
		LastKnownLocation: c.engine.LastKnownLocation(),
	})
}

// ListGeofences handles GET /geofences
func (c *Controller) ListGeofences(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.Geofences())
}

// CreateGeofenceRequest is the body of POST /geofences
type CreateGeofenceRequest struct {
	Name   string  `json:"name"`
	Radius float64 `json:"radius"`
}

// CreateGeofence handles POST /geofences, centering the fence on the last known location
func (c *Controller) CreateGeofence(ctx echo.Context) error {
	var req CreateGeofenceRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	g, err := c.engine.AddGeofence(req.Name, req.Radius)
	if err != nil {
		return c.HandleError(ctx, err, "Cannot add geofence", statusFor(err))
	}
	return ctx.JSON(http.StatusCreated, g)
}

// DeleteGeofence handles DELETE /geofences/:id
func (c *Controller) DeleteGeofence(ctx echo.Context) error {
	id := ctx.Param("id")
	if !c.engine.RemoveGeofence(id) {
		return c.HandleError(ctx, geofence.ErrGeofenceNotFound, "Geofence not found", http.StatusNotFound)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// ListNotifications handles GET /notifications, newest first
func (c *Controller) ListNotifications(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.Notifications())
}

// ListPendingAlerts handles GET /alerts/pending
func (c *Controller) ListPendingAlerts(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.PendingAlerts())
}

// TrackingRequest is the body of PUT /tracking
type TrackingRequest struct {
	Enabled bool `json:"enabled"`
}

// SetTracking handles PUT /tracking
func (c *Controller) SetTracking(ctx echo.Context) error {
	var req TrackingRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := c.engine.SetTracking(ctx.Request().Context(), req.Enabled); err != nil {
		return c.HandleError(ctx, err, "Cannot change tracking", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"tracking": c.engine.IsTracking()})
}

// Panic handles POST /panic
func (c *Controller) Panic(ctx echo.Context) error {
	return ctx.JSON(http.StatusCreated, c.engine.Panic())
}

// GetProfile handles GET /profile
func (c *Controller) GetProfile(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.engine.Profile())
}

// UpdateProfile handles PUT /profile
func (c *Controller) UpdateProfile(ctx echo.Context) error {
	var p notification.Profile
	if err := ctx.Bind(&p); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	updated, err := c.engine.UpdateProfile(p)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid profile", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, updated)
}

// PostLocation handles POST /location. While tracking the sample goes
// through the position feed and is evaluated; otherwise it only updates the
// last known location.
func (c *Controller) PostLocation(ctx echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxLocationBody))
	if err != nil {
		return c.HandleError(ctx, err, "Cannot read request body", http.StatusBadRequest)
	}
	sample, err := position.ParseSample(body)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid location", http.StatusBadRequest)
	}

	if c.feed != nil && c.feed.Push(sample) {
		return ctx.JSON(http.StatusAccepted, map[string]any{"evaluated": true, "sample": sample})
	}
	if err := c.engine.SetLocation(sample); err != nil {
		return c.HandleError(ctx, err, "Invalid location", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"evaluated": false, "sample": sample})
}

// LocationStatusRequest reports a position source failure
type LocationStatusRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PostLocationStatus handles POST /location/status, forwarding source
// failures such as a revoked permission to the tracking controller
func (c *Controller) PostLocationStatus(ctx echo.Context) error {
	var req LocationStatusRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.HandleError(ctx, nil, "Status code is required", http.StatusBadRequest)
	}
	statusErr := position.StatusError(req.Code, req.Message)
	if statusErr == nil {
		return c.HandleError(ctx, nil, "Unknown status code", http.StatusBadRequest)
	}
	if c.feed == nil || !c.feed.Fail(statusErr) {
		return c.HandleError(ctx, nil, "Tracking is not active", http.StatusConflict)
	}
	return ctx.NoContent(http.StatusAccepted)
}
