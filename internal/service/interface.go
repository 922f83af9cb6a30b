package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
)

// Sender delivers an outbound message to one connection without blocking.
// It returns an error when the connection is unknown.
type Sender interface {
	SendToClient(clientID string, message interface{}) error
}

// Emitter accepts lifecycle events for asynchronous delivery.
type Emitter interface {
	Emit(event *pubsub.Event)
}

// LiveService coordinates rooms, negotiation relays and PK battles.
// Every Handle method takes the id of the connection the event came from.
type LiveService interface {
	// HandleConnect greets a new connection with its id.
	HandleConnect(ctx context.Context, connID string) error

	// HandleStartBroadcast opens (or takes over) the room of msg.StreamerID.
	HandleStartBroadcast(ctx context.Context, connID string, msg *domain.StartBroadcastMessage) error

	// HandleEndBroadcast closes the room owned by connID.
	HandleEndBroadcast(ctx context.Context, connID string) error

	// HandleJoinStream adds connID as a viewer of an existing room.
	HandleJoinStream(ctx context.Context, connID string, msg *domain.JoinStreamMessage) error

	// HandleLeaveStream removes connID from a room it views.
	HandleLeaveStream(ctx context.Context, connID string, msg *domain.LeaveStreamMessage) error

	// HandleRelay forwards an offer, answer or ICE candidate verbatim.
	HandleRelay(ctx context.Context, connID string, msg *domain.RelayMessage) error

	// HandleChatMessage fans a chat line out to a room.
	HandleChatMessage(ctx context.Context, connID string, msg *domain.ChatMessage) error

	// HandleSendGift fans a gift out to a room and scores it in a battle.
	HandleSendGift(ctx context.Context, connID string, msg *domain.SendGiftMessage) error

	HandlePKInvite(ctx context.Context, connID string, msg *domain.PKInviteMessage) error
	HandlePKAccept(ctx context.Context, connID string, msg *domain.PKAcceptMessage) error
	HandlePKReject(ctx context.Context, connID string, msg *domain.PKRejectMessage) error
	HandlePKEnd(ctx context.Context, connID string, msg *domain.PKEndMessage) error

	HandlePing(ctx context.Context, connID string) error

	// HandleDisconnect releases everything connID owned or viewed.
	HandleDisconnect(ctx context.Context, connID string) error

	// ActiveStreams returns a snapshot of live rooms.
	ActiveStreams() []domain.StreamSummary

	// Stream returns one live room with its battle, if any.
	Stream(streamID string) (*domain.StreamDetail, bool)

	// Stop cancels pending battle timers.
	Stop()
}
