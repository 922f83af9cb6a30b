package room

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestJoinRequiresRoom(t *testing.T) {
	d := NewDirectory()

	if _, err := d.JoinAsViewer("alice", "v1", "viewer-1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if d.ViewerCount("alice") != 0 {
		t.Error("expected count 0 for missing room")
	}
}

func TestViewerCountTracksJoinsAndLeaves(t *testing.T) {
	d := NewDirectory()
	d.StartBroadcast("alice", "Alice", "b1", t0)

	for _, c := range []string{"v1", "v2", "v3"} {
		if _, err := d.JoinAsViewer("alice", c, "id-"+c); err != nil {
			t.Fatalf("join %s: %v", c, err)
		}
	}
	// Duplicate join does not double count.
	d.JoinAsViewer("alice", "v2", "id-v2")
	if got := d.ViewerCount("alice"); got != 3 {
		t.Fatalf("expected 3 viewers, got %d", got)
	}

	res, err := d.Leave("alice", "v2")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Ended || res.Count != 2 {
		t.Errorf("unexpected leave result %+v", res)
	}

	if _, err := d.Leave("alice", "stranger"); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
}

func TestBroadcasterLeaveEndsRoom(t *testing.T) {
	d := NewDirectory()
	d.StartBroadcast("alice", "Alice", "b1", t0)
	d.JoinAsViewer("alice", "v2", "x")
	d.JoinAsViewer("alice", "v1", "y")

	res, err := d.Leave("alice", "b1")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !res.Ended {
		t.Fatal("expected room to end")
	}
	if want := []string{"v1", "v2"}; !reflect.DeepEqual(res.Viewers, want) {
		t.Errorf("expected viewers %v, got %v", want, res.Viewers)
	}
	if _, ok := d.Get("alice"); ok {
		t.Error("room still present after broadcaster left")
	}
}

func TestStartBroadcastReplacement(t *testing.T) {
	tests := []struct {
		name         string
		secondConn   string
		wantReplaced string
		wantStarted  time.Time
	}{
		{name: "other connection takes over", secondConn: "b2", wantReplaced: "b1", wantStarted: t0.Add(time.Minute)},
		{name: "same connection restarts", secondConn: "b1", wantReplaced: "", wantStarted: t0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectory()
			d.StartBroadcast("alice", "Alice", "b1", t0)
			d.JoinAsViewer("alice", "v1", "x")

			r, replaced := d.StartBroadcast("alice", "Alice 2", tt.secondConn, t0.Add(time.Minute))
			if replaced != tt.wantReplaced {
				t.Errorf("expected replaced %q, got %q", tt.wantReplaced, replaced)
			}
			if r.BroadcasterConn != tt.secondConn || r.BroadcasterName != "Alice 2" {
				t.Errorf("room not updated: %+v", r)
			}
			if _, ok := r.Viewers["v1"]; !ok {
				t.Error("viewers were not carried over")
			}
			if !r.StartedAt.Equal(tt.wantStarted) {
				t.Errorf("expected start %v, got %v", tt.wantStarted, r.StartedAt)
			}
		})
	}
}

func TestSnapshotSortedWithOpponent(t *testing.T) {
	d := NewDirectory()
	d.StartBroadcast("bob", "Bob", "b2", t0)
	d.StartBroadcast("alice", "Alice", "b1", t0)
	d.JoinAsViewer("bob", "v1", "x")

	snap := d.Snapshot(func(id string) string {
		if id == "alice" {
			return "bob"
		}
		return ""
	})

	if len(snap) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(snap))
	}
	if snap[0].StreamerID != "alice" || snap[1].StreamerID != "bob" {
		t.Errorf("snapshot not sorted: %+v", snap)
	}
	if snap[0].BattleOpponent != "bob" || snap[1].ViewerCount != 1 {
		t.Errorf("unexpected snapshot contents: %+v", snap)
	}
	if d.TotalViewers() != 1 {
		t.Errorf("expected 1 total viewer, got %d", d.TotalViewers())
	}
}
