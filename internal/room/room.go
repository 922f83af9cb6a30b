package room

import (
	"errors"
	"sort"
	"time"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("connection is not a member of the room")
)

// Room is a live broadcast. It exists only while its broadcaster is connected.
type Room struct {
	BroadcastID     string
	BroadcasterName string
	BroadcasterConn string
	// Viewers maps viewer connection id to the viewer id it joined with.
	Viewers   map[string]string
	StartedAt time.Time
}

// ViewerConns returns the viewer connection ids in stable order.
func (r *Room) ViewerConns() []string {
	conns := make([]string, 0, len(r.Viewers))
	for c := range r.Viewers {
		conns = append(conns, c)
	}
	sort.Strings(conns)
	return conns
}

// Members returns the broadcaster followed by every viewer.
func (r *Room) Members() []string {
	return append([]string{r.BroadcasterConn}, r.ViewerConns()...)
}

// LeaveResult describes what a Leave did.
type LeaveResult struct {
	// Ended is true when the broadcaster left and the room was removed.
	Ended bool
	// Viewers holds the viewer connections at removal time when Ended.
	Viewers []string
	// Count is the remaining viewer count when a viewer left.
	Count int
}

// Directory maps broadcast ids to rooms. Not safe for concurrent use.
type Directory struct {
	rooms map[string]*Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// StartBroadcast creates or replaces the room for broadcastID. On
// replacement the viewers are carried over and the previous broadcaster
// connection is returned when it differs from conn.
func (d *Directory) StartBroadcast(broadcastID, name, conn string, now time.Time) (*Room, string) {
	r := &Room{
		BroadcastID:     broadcastID,
		BroadcasterName: name,
		BroadcasterConn: conn,
		Viewers:         make(map[string]string),
		StartedAt:       now,
	}

	var replaced string
	if prev, ok := d.rooms[broadcastID]; ok {
		for c, v := range prev.Viewers {
			if c != conn {
				r.Viewers[c] = v
			}
		}
		if prev.BroadcasterConn != conn {
			replaced = prev.BroadcasterConn
		} else {
			r.StartedAt = prev.StartedAt
		}
	}

	d.rooms[broadcastID] = r
	return r, replaced
}

// JoinAsViewer adds conn to the room's viewers. Joining twice is a no-op.
func (d *Directory) JoinAsViewer(broadcastID, conn, viewerID string) (*Room, error) {
	r, ok := d.rooms[broadcastID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if conn != r.BroadcasterConn {
		r.Viewers[conn] = viewerID
	}
	return r, nil
}

// Leave removes conn from the room. If conn is the broadcaster the whole
// room is removed.
func (d *Directory) Leave(broadcastID, conn string) (LeaveResult, error) {
	r, ok := d.rooms[broadcastID]
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}

	if r.BroadcasterConn == conn {
		delete(d.rooms, broadcastID)
		return LeaveResult{Ended: true, Viewers: r.ViewerConns()}, nil
	}

	if _, ok := r.Viewers[conn]; !ok {
		return LeaveResult{}, ErrNotMember
	}
	delete(r.Viewers, conn)
	return LeaveResult{Count: len(r.Viewers)}, nil
}

func (d *Directory) Get(broadcastID string) (*Room, bool) {
	r, ok := d.rooms[broadcastID]
	return r, ok
}

// ViewerCount returns 0 for unknown rooms.
func (d *Directory) ViewerCount(broadcastID string) int {
	r, ok := d.rooms[broadcastID]
	if !ok {
		return 0
	}
	return len(r.Viewers)
}

func (d *Directory) Len() int {
	return len(d.rooms)
}

// TotalViewers sums viewers over all rooms.
func (d *Directory) TotalViewers() int {
	n := 0
	for _, r := range d.rooms {
		n += len(r.Viewers)
	}
	return n
}

// Summary builds the read-only view of a room.
func (r *Room) Summary() domain.StreamSummary {
	return domain.StreamSummary{
		StreamerID:   r.BroadcastID,
		StreamerName: r.BroadcasterName,
		ViewerCount:  len(r.Viewers),
		StartedAt:    r.StartedAt,
	}
}

// Snapshot lists all live rooms sorted by id. opponent, if non-nil, fills in
// the battle opponent of each room.
func (d *Directory) Snapshot(opponent func(broadcastID string) string) []domain.StreamSummary {
	out := make([]domain.StreamSummary, 0, len(d.rooms))
	for _, r := range d.rooms {
		s := r.Summary()
		if opponent != nil {
			s.BattleOpponent = opponent(r.BroadcastID)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamerID < out[j].StreamerID })
	return out
}
