package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/middleware"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/pkg/logger"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
)

// EventSubscriber streams a conversation's events.
type EventSubscriber interface {
	Subscribe(ctx context.Context, tenantID, sessionID string, afterSequence uint64, fn func(*model.ConversationEvent) error) error
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	conversations *service.ConversationService
	events        EventSubscriber
	logger        *logger.Logger
	heartbeat     time.Duration
}

// NewStreamHandler creates a new stream handler. A nil subscriber disables
// the endpoint.
func NewStreamHandler(convs *service.ConversationService, events EventSubscriber, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		conversations: convs,
		events:        events,
		logger:        log,
		heartbeat:     30 * time.Second,
	}
}

// Events handles GET /api/v1/conversations/{session}/events
// Resumes after the Last-Event-ID header or ?after_sequence=N when given.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	sessionID := chi.URLParam(r, "session")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	if _, err := h.conversations.Get(ctx, tenantID, sessionID); err != nil {
		writeServiceError(w, h.logger, "open event stream", err)
		return
	}

	afterSequence := resumeSequence(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *model.ConversationEvent, 16)
	subErr := make(chan error, 1)
	go func() {
		subErr <- h.events.Subscribe(ctx, tenantID, sessionID, afterSequence, func(e *model.ConversationEvent) error {
			select {
			case events <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	sendSSEEvent(w, flusher, 0, "connected", map[string]string{"session_id": sessionID})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case e := <-events:
			if err := sendSSEEvent(w, flusher, e.Sequence, string(e.Type), e); err != nil {
				return
			}

		case err := <-subErr:
			if err != nil && ctx.Err() == nil {
				h.logger.Error("event subscription failed", zap.String("session_id", sessionID), zap.Error(err))
				sendSSEEvent(w, flusher, 0, "error", &model.ErrorEvent{
					Code:    "stream_error",
					Message: "event stream interrupted",
				})
			}
			return

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, 0, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func resumeSequence(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after_sequence")
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, id uint64, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
