package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/observability"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/service"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/utils"
)

const (
	closeJobNotFound  = 4404
	closeStreamFailed = 4500
)

// JobStreamHandler delivers job events over WebSocket and Server-Sent Events.
type JobStreamHandler struct {
	service   service.JobService
	keepAlive time.Duration
	logger    zerolog.Logger
}

// NewJobStreamHandler constructs a stream handler. keepAlive is the ping/comment interval.
func NewJobStreamHandler(service service.JobService, keepAlive time.Duration, logger zerolog.Logger) *JobStreamHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &JobStreamHandler{
		service:   service,
		keepAlive: keepAlive,
		logger:    logger.With().Str("component", "job_stream_handler").Logger(),
	}
}

// Register binds the stream routes under the jobs group.
func (h *JobStreamHandler) Register(router fiber.Router) {
	router.Get("/:id/ws", requireUpgrade, websocket.New(h.serveWebSocket))
	router.Get("/:id/stream", h.serveSSE)
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("request_ctx", requestContext(c))
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *JobStreamHandler) serveWebSocket(conn *websocket.Conn) {
	jobID := conn.Params("id")
	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	logger := h.logger.With().Str("job_id", jobID).Logger()

	events, cancel, err := h.service.Subscribe(ctx, jobID)
	if err != nil {
		code, reason := closeStreamFailed, "stream unavailable"
		if errors.Is(err, service.ErrJobNotFound) {
			code, reason = closeJobNotFound, err.Error()
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = conn.Close()
		return
	}
	defer cancel()

	observability.StreamClients().WithLabelValues("ws").Inc()
	defer observability.StreamClients().WithLabelValues("ws").Dec()
	logger.Info().Msg("job websocket connected")

	// Client frames are ignored; reading surfaces disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				_ = conn.Close()
				logger.Info().Msg("job websocket closed")
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("failed to write job event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Debug().Err(err).Msg("failed to ping job websocket")
				return
			}
		case <-gone:
			logger.Info().Msg("job websocket disconnected")
			return
		}
	}
}

func (h *JobStreamHandler) serveSSE(c *fiber.Ctx) error {
	jobID := jobIDParam(c)
	ctx := requestContext(c)

	events, cleanup, err := h.service.Subscribe(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Str("job_id", jobID).Msg("failed to open job stream")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to open job stream")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With().Str("job_id", jobID).Logger()
	observability.StreamClients().WithLabelValues("sse").Inc()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			observability.StreamClients().WithLabelValues("sse").Dec()
		}()

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeJobEvent(w, event); err != nil {
					logger.Debug().Err(err).Msg("failed to write job event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write job stream keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func writeJobEvent(w *bufio.Writer, event models.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", event.Sequence, event.Event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
