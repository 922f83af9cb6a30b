package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMissingField   = errors.New("missing required field")
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Inbound is a decoded client event.
type Inbound interface {
	EventType() string
}

type StartBroadcastMessage struct {
	StreamerID   string `json:"streamerId"`
	StreamerName string `json:"streamerName"`
}

type EndBroadcastMessage struct{}

type JoinStreamMessage struct {
	StreamerID string `json:"streamerId"`
	ViewerID   string `json:"viewerId"`
}

type LeaveStreamMessage struct {
	StreamerID string `json:"streamerId"`
}

// RelayMessage covers offer, answer and ice-candidate. Payload holds the
// opaque sdp or candidate body and is forwarded untouched.
type RelayMessage struct {
	Kind           string          `json:"-"`
	TargetSocketID string          `json:"targetSocketId"`
	SDP            json.RawMessage `json:"sdp,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns the body to forward for this relay kind.
func (m *RelayMessage) Payload() json.RawMessage {
	if m.Kind == EvtICECandidate {
		return m.Candidate
	}
	return m.SDP
}

type ChatMessage struct {
	StreamerID   string `json:"streamerId"`
	Message      string `json:"message"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
}

type SendGiftMessage struct {
	StreamerID   string `json:"streamerId"`
	GiftName     string `json:"giftName"`
	GiftIcon     string `json:"giftIcon"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
	Coins        int64  `json:"coins"`
}

type PKInviteMessage struct {
	TargetStreamerID       string `json:"targetStreamerId"`
	RequestingStreamerID   string `json:"requestingStreamerId"`
	RequestingStreamerName string `json:"requestingStreamerName"`
}

// PKAcceptMessage: TargetStreamerID is the streamer who sent the invite, which becomes
// side A of the battle.
type PKAcceptMessage struct {
	TargetStreamerID    string `json:"targetStreamerId"`
	AcceptingStreamerID string `json:"acceptingStreamerId"`
}

type PKRejectMessage struct {
	TargetStreamerID string `json:"targetStreamerId"`
}

type PKEndMessage struct {
	StreamerID string `json:"streamerId"`
}

type PingMessage struct{}

func (*StartBroadcastMessage) EventType() string { return EvtStartBroadcast }
func (*EndBroadcastMessage) EventType() string   { return EvtEndBroadcast }
func (*JoinStreamMessage) EventType() string     { return EvtJoinStream }
func (*LeaveStreamMessage) EventType() string    { return EvtLeaveStream }
func (m *RelayMessage) EventType() string        { return m.Kind }
func (*ChatMessage) EventType() string           { return EvtChatMessage }
func (*SendGiftMessage) EventType() string       { return EvtSendGift }
func (*PKInviteMessage) EventType() string       { return EvtPKInvite }
func (*PKAcceptMessage) EventType() string       { return EvtPKAccept }
func (*PKRejectMessage) EventType() string       { return EvtPKReject }
func (*PKEndMessage) EventType() string          { return EvtPKEnd }
func (*PingMessage) EventType() string           { return EvtPing }

// DecodeInbound parses one client frame into its typed event. Errors wrap
// ErrMalformedFrame, ErrUnknownEvent or ErrMissingField.
func DecodeInbound(data []byte) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var msg Inbound
	switch base.Type {
	case EvtStartBroadcast:
		msg = &StartBroadcastMessage{}
	case EvtEndBroadcast:
		msg = &EndBroadcastMessage{}
	case EvtJoinStream:
		msg = &JoinStreamMessage{}
	case EvtLeaveStream:
		msg = &LeaveStreamMessage{}
	case EvtOffer, EvtAnswer, EvtICECandidate:
		msg = &RelayMessage{Kind: base.Type}
	case EvtChatMessage:
		msg = &ChatMessage{}
	case EvtSendGift:
		msg = &SendGiftMessage{}
	case EvtPKInvite:
		msg = &PKInviteMessage{}
	case EvtPKAccept:
		msg = &PKAcceptMessage{}
	case EvtPKReject:
		msg = &PKRejectMessage{}
	case EvtPKEnd:
		msg = &PKEndMessage{}
	case EvtPing:
		msg = &PingMessage{}
	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, base.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, base.Type, err)
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validate(msg Inbound) error {
	switch m := msg.(type) {
	case *StartBroadcastMessage:
		return require("streamerId", m.StreamerID)
	case *JoinStreamMessage:
		if err := require("streamerId", m.StreamerID); err != nil {
			return err
		}
		return require("viewerId", m.ViewerID)
	case *LeaveStreamMessage:
		return require("streamerId", m.StreamerID)
	case *RelayMessage:
		if err := require("targetSocketId", m.TargetSocketID); err != nil {
			return err
		}
		if len(m.Payload()) == 0 {
			if m.Kind == EvtICECandidate {
				return fmt.Errorf("%w: candidate", ErrMissingField)
			}
			return fmt.Errorf("%w: sdp", ErrMissingField)
		}
	case *ChatMessage:
		return require("streamerId", m.StreamerID)
	case *SendGiftMessage:
		if err := require("streamerId", m.StreamerID); err != nil {
			return err
		}
		if m.Coins < 0 {
			return fmt.Errorf("%w: coins must not be negative", ErrMalformedFrame)
		}
	case *PKInviteMessage:
		if err := require("targetStreamerId", m.TargetStreamerID); err != nil {
			return err
		}
		return require("requestingStreamerId", m.RequestingStreamerID)
	case *PKAcceptMessage:
		if err := require("targetStreamerId", m.TargetStreamerID); err != nil {
			return err
		}
		return require("acceptingStreamerId", m.AcceptingStreamerID)
	case *PKRejectMessage:
		return require("targetStreamerId", m.TargetStreamerID)
	case *PKEndMessage:
		return require("streamerId", m.StreamerID)
	}
	return nil
}

func require(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return nil
}
