package domain

import "time"

// Role of a connection relative to the rooms it participates in.
type Role string

const (
	RoleNone        Role = ""
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// StreamSummary is the read-only view of a live room served by the query API.
type StreamSummary struct {
	StreamerID     string    `json:"streamerId"`
	StreamerName   string    `json:"streamerName,omitempty"`
	ViewerCount    int       `json:"viewerCount"`
	StartedAt      time.Time `json:"startedAt"`
	BattleOpponent string    `json:"battleOpponent,omitempty"`
}

// BattleState is a copy of an active battle, safe to hand outside the lock.
type BattleState struct {
	ID        string    `json:"id"`
	StreamerA string    `json:"streamerA"`
	ScoreA    int64     `json:"scoreA"`
	StreamerB string    `json:"streamerB"`
	ScoreB    int64     `json:"scoreB"`
	StartedAt time.Time `json:"startedAt"`
}

// Score returns the wire score carried by pk-score-update and pk-ended.
func (b BattleState) Score() Score {
	return Score{
		StreamerA: b.StreamerA,
		ScoreA:    b.ScoreA,
		StreamerB: b.StreamerB,
		ScoreB:    b.ScoreB,
	}
}

// StreamDetail is a single stream together with its battle, if any.
type StreamDetail struct {
	StreamSummary
	Battle *BattleState `json:"battle,omitempty"`
}
