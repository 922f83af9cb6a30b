// Package registry maps connection ids to the role they play and the rooms
// they participate in. It is not safe for concurrent use; the coordinator
// serialises access.
package registry

import (
	"sort"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
)

// Entry is the bookkeeping for one connection.
type Entry struct {
	Role   domain.Role
	RoomID string
	// Watching holds rooms viewed in addition to RoomID.
	Watching map[string]struct{}
}

type Registry struct {
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Assign records conn as playing role in roomID, replacing any previous role
// and owned room. Watched rooms are preserved, minus roomID itself. A room
// conn was viewing as its primary room keeps being watched.
func (r *Registry) Assign(conn string, role domain.Role, roomID string) {
	e, ok := r.entries[conn]
	if !ok {
		e = &Entry{Watching: make(map[string]struct{})}
		r.entries[conn] = e
	}
	if e.Role == domain.RoleViewer && e.RoomID != "" && e.RoomID != roomID {
		e.Watching[e.RoomID] = struct{}{}
	}
	e.Role = role
	e.RoomID = roomID
	delete(e.Watching, roomID)
}

// Watch adds roomID to the rooms conn views. A connection with no entry
// becomes a viewer of roomID.
func (r *Registry) Watch(conn, roomID string) {
	e, ok := r.entries[conn]
	if !ok || e.Role == domain.RoleNone {
		r.Assign(conn, domain.RoleViewer, roomID)
		return
	}
	if e.RoomID == roomID {
		return
	}
	e.Watching[roomID] = struct{}{}
}

// Unwatch stops conn viewing roomID. If roomID was the primary room of a
// viewer, another watched room is promoted, or the entry is removed.
func (r *Registry) Unwatch(conn, roomID string) {
	e, ok := r.entries[conn]
	if !ok {
		return
	}
	if _, watched := e.Watching[roomID]; watched {
		delete(e.Watching, roomID)
		return
	}
	if e.Role != domain.RoleViewer || e.RoomID != roomID {
		return
	}
	if next, ok := firstKey(e.Watching); ok {
		delete(e.Watching, next)
		e.RoomID = next
		return
	}
	delete(r.entries, conn)
}

// Release drops ownership of a room while keeping watched rooms. A
// broadcaster that still watches rooms becomes a viewer.
func (r *Registry) Release(conn string) {
	e, ok := r.entries[conn]
	if !ok || e.Role != domain.RoleBroadcaster {
		return
	}
	if next, ok := firstKey(e.Watching); ok {
		delete(e.Watching, next)
		e.Role = domain.RoleViewer
		e.RoomID = next
		return
	}
	delete(r.entries, conn)
}

// Lookup returns a copy of the entry for conn.
func (r *Registry) Lookup(conn string) (Entry, bool) {
	e, ok := r.entries[conn]
	if !ok {
		return Entry{}, false
	}
	cp := Entry{Role: e.Role, RoomID: e.RoomID, Watching: make(map[string]struct{}, len(e.Watching))}
	for id := range e.Watching {
		cp.Watching[id] = struct{}{}
	}
	return cp, true
}

// Owned returns the room conn broadcasts, if any.
func (r *Registry) Owned(conn string) (string, bool) {
	e, ok := r.entries[conn]
	if !ok || e.Role != domain.RoleBroadcaster {
		return "", false
	}
	return e.RoomID, true
}

// Rooms lists every room conn participates in, primary room first.
func (r *Registry) Rooms(conn string) []string {
	e, ok := r.entries[conn]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, 1+len(e.Watching))
	if e.RoomID != "" {
		rooms = append(rooms, e.RoomID)
	}
	rest := make([]string, 0, len(e.Watching))
	for id := range e.Watching {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	return append(rooms, rest...)
}

// Clear removes conn entirely.
func (r *Registry) Clear(conn string) {
	delete(r.entries, conn)
}

func (r *Registry) Len() int {
	return len(r.entries)
}

func firstKey(m map[string]struct{}) (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], true
}
