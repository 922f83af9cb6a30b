package domain

import "encoding/json"

// WebSocket event types from client.
const (
	EvtStartBroadcast = "start-broadcast"
	EvtEndBroadcast   = "end-broadcast"
	EvtJoinStream     = "join-stream"
	EvtLeaveStream    = "leave-stream"
	EvtOffer          = "offer"
	EvtAnswer         = "answer"
	EvtICECandidate   = "ice-candidate"
	EvtChatMessage    = "chat-message"
	EvtSendGift       = "send-gift"
	EvtPKInvite       = "pk-invite"
	EvtPKAccept       = "pk-accept"
	EvtPKReject       = "pk-reject"
	EvtPKEnd          = "pk-end"
	EvtPing           = "ping"
)

// WebSocket event types to client. Offer, answer, ice-candidate and
// chat-message reuse the inbound names.
const (
	EvtConnected        = "connected"
	EvtViewerJoined     = "viewer-joined"
	EvtGiftReceived     = "gift-received"
	EvtPKScoreUpdate    = "pk-score-update"
	EvtPKInviteReceived = "pk-invite-received"
	EvtPKStarted        = "pk-started"
	EvtPKModeActive     = "pk-mode-active"
	EvtPKRejected       = "pk-rejected"
	EvtPKEnded          = "pk-ended"
	EvtViewerCount      = "viewer-count"
	EvtStreamEnded      = "stream-ended"
	EvtError            = "error"
	EvtPong             = "pong"
)

// Error codes carried by error events.
const (
	ErrCodeBadRequest = "BAD_REQUEST"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeForbidden  = "FORBIDDEN"
	ErrCodeInternal   = "INTERNAL_ERROR"
)

// PK end reasons.
const (
	EndReasonExplicit    = "explicit"
	EndReasonStreamEnded = "stream-ended"
	EndReasonDisconnect  = "disconnect"
	EndReasonTimeout     = "timeout"
)

// Server -> Client messages

// ConnectedMessage tells a freshly upgraded client its connection id.
type ConnectedMessage struct {
	Type     string `json:"type"`
	SocketID string `json:"socketId"`
}

type ViewerJoinedMessage struct {
	Type     string `json:"type"`
	ViewerID string `json:"viewerId"`
	SocketID string `json:"socketId"`
}

// OfferMessage carries the sender's connection id so the viewer can answer
// along the same path.
type OfferMessage struct {
	Type                string          `json:"type"`
	SDP                 json.RawMessage `json:"sdp"`
	BroadcasterSocketID string          `json:"broadcasterSocketId"`
}

type AnswerMessage struct {
	Type           string          `json:"type"`
	SDP            json.RawMessage `json:"sdp"`
	ViewerSocketID string          `json:"viewerSocketId"`
}

type ICECandidateMessage struct {
	Type         string          `json:"type"`
	Candidate    json.RawMessage `json:"candidate"`
	FromSocketID string          `json:"fromSocketId"`
}

type ChatBroadcastMessage struct {
	Type         string `json:"type"`
	StreamerID   string `json:"streamerId"`
	Message      string `json:"message"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
}

// GiftReceivedMessage is fanned out to a room. Timestamp is server time in
// unix milliseconds.
type GiftReceivedMessage struct {
	Type         string `json:"type"`
	StreamerID   string `json:"streamerId"`
	GiftName     string `json:"giftName"`
	GiftIcon     string `json:"giftIcon"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
	Coins        int64  `json:"coins"`
	Timestamp    int64  `json:"timestamp"`
}

// Score is the merged PK score delivered to both rooms.
type Score struct {
	StreamerA string `json:"streamerA"`
	ScoreA    int64  `json:"scoreA"`
	StreamerB string `json:"streamerB"`
	ScoreB    int64  `json:"scoreB"`
}

type PKScoreUpdateMessage struct {
	Type string `json:"type"`
	Score
}

type PKInviteReceivedMessage struct {
	Type         string `json:"type"`
	StreamerID   string `json:"streamerId"`
	StreamerName string `json:"streamerName"`
}

// PKPeerMessage is used for both pk-started and pk-mode-active.
type PKPeerMessage struct {
	Type            string `json:"type"`
	OtherStreamerID string `json:"otherStreamerId"`
}

type PKRejectedMessage struct {
	Type string `json:"type"`
}

type PKEndedMessage struct {
	Type string `json:"type"`
	Score
	Reason string `json:"reason"`
}

type ViewerCountMessage struct {
	Type       string `json:"type"`
	StreamerID string `json:"streamerId"`
	Count      int    `json:"count"`
}

type StreamEndedMessage struct {
	Type       string `json:"type"`
	StreamerID string `json:"streamerId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    EvtError,
		Code:    code,
		Message: message,
	}
}

func NewPKPeerMessage(eventType, otherStreamerID string) *PKPeerMessage {
	return &PKPeerMessage{Type: eventType, OtherStreamerID: otherStreamerID}
}

func NewViewerCountMessage(streamerID string, count int) *ViewerCountMessage {
	return &ViewerCountMessage{Type: EvtViewerCount, StreamerID: streamerID, Count: count}
}
