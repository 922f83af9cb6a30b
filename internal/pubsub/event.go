package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle event types published for external consumers.
const (
	EventStreamStarted = "stream_started"
	EventStreamEnded   = "stream_ended"
	EventViewerCount   = "viewer_count"
	EventBattleStarted = "battle_started"
	EventBattleScore   = "battle_score"
	EventBattleEnded   = "battle_ended"
)

// Stream end reasons
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
	ReasonReplaced   = "replaced"
	ReasonTimeout    = "timeout"
)

const (
	// TopicLiveEvents is the default Kafka topic.
	TopicLiveEvents = "live-events"

	channelStreamEvents = "live:stream:%s:events"
)

// StreamChannel returns the Redis channel carrying events of one stream.
func StreamChannel(streamID string) string {
	return fmt.Sprintf(channelStreamEvents, streamID)
}

// Event is the envelope for every lifecycle event.
type Event struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"stream_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event stamped with now.
func NewEvent(eventType, streamID string, payload interface{}, now time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		Type:      eventType,
		StreamID:  streamID,
		Payload:   data,
		Timestamp: now,
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type StreamStartedPayload struct {
	StreamerID   string `json:"streamer_id"`
	StreamerName string `json:"streamer_name"`
	StartedAt    int64  `json:"started_at"`
}

type StreamEndedPayload struct {
	StreamerID string `json:"streamer_id"`
	Reason     string `json:"reason"`
}

type ViewerCountPayload struct {
	StreamerID string `json:"streamer_id"`
	Count      int    `json:"count"`
}

type BattlePayload struct {
	BattleID  string `json:"battle_id"`
	StreamerA string `json:"streamer_a"`
	ScoreA    int64  `json:"score_a"`
	StreamerB string `json:"streamer_b"`
	ScoreB    int64  `json:"score_b"`
	Reason    string `json:"reason,omitempty"`
}

// Publisher delivers lifecycle events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NopPublisher discards events. Used when pubsub.driver is none.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }
func (NopPublisher) Close() error                          { return nil }
