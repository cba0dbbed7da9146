package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/notification"
)

const (
	streamPath        = "/api/v1/notifications/stream"
	heartbeatInterval = 30 * time.Second
	sseWriteTimeout   = 10 * time.Second
)

// toastEvent is what a client shows for a new log entry
type toastEvent struct {
	ID        string            `json:"id"`
	Kind      notification.Kind `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Failed    bool              `json:"failed,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newToastEvent(e notification.Entry) toastEvent {
	return toastEvent{
		ID:        e.ID,
		Kind:      e.Kind,
		Title:     e.Kind.Title(),
		Message:   e.Message,
		Failed:    e.Failed,
		Timestamp: e.Timestamp,
	}
}

// StreamNotifications handles GET /notifications/stream as server-sent
// events: one "toast" event per new log entry plus periodic heartbeats
func (c *Controller) StreamNotifications(ctx echo.Context) error {
	clientID := uuid.NewString()
	entries, subCtx := c.engine.SubscribeNotifications()
	defer c.engine.UnsubscribeNotifications(entries)

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if err := c.sendSSEMessage(ctx, "connected", map[string]string{"clientId": clientID}); err != nil {
		return nil
	}
	c.logger.Debug("notification stream opened", logger.String("client_id", clientID))
	defer c.logger.Debug("notification stream closed", logger.String("client_id", clientID))

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-entries:
			if err := c.sendSSEMessage(ctx, "toast", newToastEvent(entry)); err != nil {
				c.logger.Debug("notification stream write failed", logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := c.sendSSEMessage(ctx, "heartbeat", map[string]string{
				"timestamp": time.Now().Format(time.RFC3339),
			}); err != nil {
				return nil
			}
		case <-ctx.Request().Context().Done():
			return nil
		case <-subCtx.Done():
			return nil
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *Controller) sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	ctx.Response().Flush()
	return nil
}
