package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/hub"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/service"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub     *hub.Hub
	service service.LiveService
	metrics *metrics.Metrics
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.LiveService, m *metrics.Metrics) *WSHandler {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &WSHandler{
		hub:     h,
		service: svc,
		metrics: m,
	}
}

// HandleWebSocket upgrades the request, greets the connection and starts its
// read and write loops.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.Ctx(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	// The socket outlives the request, so only its logger is carried over.
	ctx := pkglog.WithConn(pkglog.WithLogger(context.Background(), l), connID)

	client := hub.NewClient(connID, h.hub, conn)
	client.SetDisconnectHandler(func(c *hub.Client) {
		if err := h.service.HandleDisconnect(ctx, c.ID); err != nil {
			dl := pkglog.Ctx(ctx)
			dl.Error().Err(err).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)
	go client.WritePump()

	if err := h.service.HandleConnect(ctx, connID); err != nil {
		l.Error().Err(err).Str(pkglog.FieldConnID, connID).Msg("connect handler error")
	}

	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleMessage(ctx, c, message)
	})
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	msg, err := domain.DecodeInbound(message)
	if err != nil {
		h.metrics.IncMalformed()
		l := pkglog.Ctx(ctx)
		l.Debug().Err(err).Msg("rejected frame")
		if sendErr := client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error())); sendErr != nil {
			l.Debug().Err(sendErr).Msg("error reply not delivered")
		}
		return
	}

	if err := h.dispatch(ctx, client.ID, msg); err != nil {
		l := pkglog.Ctx(ctx)
		l.Debug().Err(err).Str(pkglog.FieldEvent, msg.EventType()).Msg("event dropped")
	}
}

func (h *WSHandler) dispatch(ctx context.Context, connID string, msg domain.Inbound) error {
	switch m := msg.(type) {
	case *domain.StartBroadcastMessage:
		return h.service.HandleStartBroadcast(ctx, connID, m)
	case *domain.EndBroadcastMessage:
		return h.service.HandleEndBroadcast(ctx, connID)
	case *domain.JoinStreamMessage:
		return h.service.HandleJoinStream(ctx, connID, m)
	case *domain.LeaveStreamMessage:
		return h.service.HandleLeaveStream(ctx, connID, m)
	case *domain.RelayMessage:
		return h.service.HandleRelay(ctx, connID, m)
	case *domain.ChatMessage:
		return h.service.HandleChatMessage(ctx, connID, m)
	case *domain.SendGiftMessage:
		return h.service.HandleSendGift(ctx, connID, m)
	case *domain.PKInviteMessage:
		return h.service.HandlePKInvite(ctx, connID, m)
	case *domain.PKAcceptMessage:
		return h.service.HandlePKAccept(ctx, connID, m)
	case *domain.PKRejectMessage:
		return h.service.HandlePKReject(ctx, connID, m)
	case *domain.PKEndMessage:
		return h.service.HandlePKEnd(ctx, connID, m)
	case *domain.PingMessage:
		return h.service.HandlePing(ctx, connID)
	default:
		return errors.New("unhandled event " + msg.EventType())
	}
}

// RegisterRoutes registers the WebSocket routes.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	serve := func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	}
	r.GET("/ws", serve)
	r.GET("/live", serve)
}
