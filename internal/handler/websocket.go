package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/middleware"
	"github.com/capitalize-ai/support-desk/internal/service"
	"github.com/capitalize-ai/support-desk/pkg/logger"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Frame types exchanged over the chat WebSocket.
const (
	frameMessage   = "message"
	frameEscalate  = "escalate"
	frameResponse  = "response"
	frameEscalated = "escalated"
	frameError     = "error"
)

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type outboundFrame struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// WebSocketHandler serves the live chat socket of one conversation.
type WebSocketHandler struct {
	conversations *service.ConversationService
	orchestrator  *service.Orchestrator
	logger        *logger.Logger
	upgrader      websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(convs *service.ConversationService, orch *service.Orchestrator, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		conversations: convs,
		orchestrator:  orch,
		logger:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication is by bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Chat handles GET /api/v1/chat/ws/{session}
func (h *WebSocketHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	sessionID := chi.URLParam(r, "session")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.conversations.Get(ctx, tenantID, sessionID); err != nil {
		writeServiceError(w, h.logger, "open chat socket", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebSocketConnectionsActive.Inc()
	defer metrics.WebSocketConnectionsActive.Dec()

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), tenantID, middleware.GetUserID(ctx)).
		With(zap.String("session_id", sessionID))
	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.ping(ctx, conn)

	actor := requester(r)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			if h.write(conn, outboundFrame{Type: frameError, Error: "invalid frame", Code: http.StatusBadRequest}) != nil {
				return
			}
			continue
		}

		var out outboundFrame
		switch frame.Type {
		case frameMessage:
			result, err := h.orchestrator.HandleCustomerMessage(ctx, tenantID, sessionID, frame.Content)
			out = reply(frameResponse, result, err)
		case frameEscalate:
			result, err := h.conversations.Escalate(ctx, tenantID, sessionID, frame.Reason, actor)
			out = reply(frameEscalated, result, err)
		default:
			out = outboundFrame{Type: frameError, Error: "unknown frame type " + frame.Type, Code: http.StatusBadRequest}
		}
		if out.Code == http.StatusInternalServerError {
			log.Error("websocket frame failed", zap.String("frame", frame.Type), zap.String("error", out.Error))
			out.Error = "internal error"
		}
		if err := h.write(conn, out); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func reply(typ string, data any, err error) outboundFrame {
	if err != nil {
		return outboundFrame{Type: frameError, Error: err.Error(), Code: statusFor(err)}
	}
	return outboundFrame{Type: typ, Data: data}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, frame outboundFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame)
}

func (h *WebSocketHandler) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
