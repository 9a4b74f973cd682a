package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// StreamEvents handles GET /api/v1/events
// It implements Server-Sent Events (SSE) for streaming build events.
// Clients reconnecting with a Last-Event-ID header receive the events
// they missed before the live subscription takes over.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	requestID := GetRequestID(ctx, r)

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("request_id", requestID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	lastEventID := r.Header.Get("Last-Event-ID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	// Send a hello event
	h.writeSSE(w, flusher, &types.Event{
		ID:        "0",
		Type:      "hello",
		Timestamp: time.Now().UTC(),
	})

	// Replay historical events if resuming
	if lastEventID != "" {
		events, err := h.store.EventsSince(ctx, lastEventID)
		if err != nil {
			h.logger.Error("failed to get historical events",
				slog.String("last_event_id", lastEventID),
				slog.String("error", err.Error()))
		} else {
			for _, evt := range events {
				h.writeSSE(w, flusher, evt)
			}
		}
	}

	// Subscribe to new events
	eventCh, cleanup, err := h.store.Subscribe(ctx)
	if err != nil {
		h.logger.Error("failed to subscribe to events", slog.String("error", err.Error()))
		return
	}
	defer cleanup()

	done := r.Context().Done()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			duration := time.Since(startTime)
			metrics.SSEConnectionDuration.Observe(duration.Seconds())
			h.logger.Info("SSE connection closed",
				slog.String("request_id", requestID),
				slog.Duration("duration", duration),
				slog.String("reason", "client_disconnect"),
			)
			return

		case evt, open := <-eventCh:
			if !open {
				// Channel closed, store is shutting down
				duration := time.Since(startTime)
				metrics.SSEConnectionDuration.Observe(duration.Seconds())
				h.logger.Info("SSE connection closed",
					slog.String("request_id", requestID),
					slog.Duration("duration", duration),
					slog.String("reason", "store_closed"),
				)
				return
			}
			h.writeSSE(w, flusher, evt)

		case <-heartbeat.C:
			// Send a heartbeat comment to keep connection alive
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt *types.Event) {
	if evt == nil {
		return
	}
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Error("failed to write SSE event", slog.String("error", err.Error()))
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", slog.String("error", err.Error()))
		return
	}
	flusher.Flush()
}
