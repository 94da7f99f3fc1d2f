package client

import (
	"sort"
	"sync"

	"github.com/matheus3301/relay/internal/protocol"
)

// DefaultTimelineCap bounds the messages kept for display.
const DefaultTimelineCap = 200

// Timeline is the client's merged view of history and live messages:
// deduplicated by ID, ordered by timestamp, capped.
type Timeline struct {
	mu   sync.Mutex
	recs []protocol.MessageRecord
	ids  map[string]struct{}
	cap  int
}

func NewTimeline(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultTimelineCap
	}
	return &Timeline{ids: make(map[string]struct{}), cap: capacity}
}

// Merge adds records not seen before and returns how many were new.
func (t *Timeline) Merge(recs ...protocol.MessageRecord) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, r := range recs {
		if _, ok := t.ids[r.ID]; ok {
			continue
		}
		r.State = protocol.Sent
		t.recs = append(t.recs, r)
		t.ids[r.ID] = struct{}{}
		added++
	}
	if added == 0 {
		return 0
	}
	sortRecords(t.recs)
	if over := len(t.recs) - t.cap; over > 0 {
		for _, r := range t.recs[:over] {
			delete(t.ids, r.ID)
		}
		t.recs = append([]protocol.MessageRecord(nil), t.recs[over:]...)
	}
	return added
}

func (t *Timeline) Records() []protocol.MessageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.MessageRecord(nil), t.recs...)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.recs)
}

func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recs = nil
	t.ids = make(map[string]struct{})
}

func sortRecords(recs []protocol.MessageRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp < recs[j].Timestamp
	})
}

// Roster tracks who is in the room, as told by the relay.
type Roster struct {
	mu     sync.Mutex
	users  map[string]protocol.UserPresence
	online int
}

func NewRoster() *Roster {
	return &Roster{users: make(map[string]protocol.UserPresence)}
}

// Apply updates the roster from a presence frame. It reports whether f was a
// presence frame.
func (r *Roster) Apply(f protocol.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch f := f.(type) {
	case *protocol.UsersList:
		r.users = make(map[string]protocol.UserPresence, len(f.Users))
		for _, u := range f.Users {
			r.users[u.Username] = u
		}
		r.online = len(f.Users)
	case *protocol.UserJoined:
		r.users[f.Username] = protocol.UserPresence{Username: f.Username, Status: protocol.Online, LastSeen: f.Timestamp}
		r.online = f.OnlineCount
	case *protocol.UserLeft:
		delete(r.users, f.Username)
		r.online = f.OnlineCount
	case *protocol.OnlineCount:
		r.online = f.Count
	case *protocol.UserStatus:
		u, ok := r.users[f.Username]
		if !ok {
			u = protocol.UserPresence{Username: f.Username}
		}
		u.Status = f.Status
		u.LastSeen = f.Timestamp
		r.users[f.Username] = u
	default:
		return false
	}
	return true
}

func (r *Roster) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Users returns everyone known, sorted by name.
func (r *Roster) Users() []protocol.UserPresence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.UserPresence, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
