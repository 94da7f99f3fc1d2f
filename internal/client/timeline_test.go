package client

import (
	"fmt"
	"testing"

	"github.com/matheus3301/relay/internal/protocol"
)

func TestTimelineMergeDedupsAndSorts(t *testing.T) {
	tl := NewTimeline(0)
	n := tl.Merge(
		protocol.MessageRecord{ID: "c", Timestamp: 30},
		protocol.MessageRecord{ID: "a", Timestamp: 10},
	)
	if n != 2 {
		t.Fatalf("Merge() = %d, want 2", n)
	}
	n = tl.Merge(
		protocol.MessageRecord{ID: "a", Timestamp: 10, Text: "replayed"},
		protocol.MessageRecord{ID: "b", Timestamp: 20},
	)
	if n != 1 {
		t.Errorf("Merge() = %d, want 1", n)
	}

	recs := tl.Records()
	var order string
	for _, r := range recs {
		order += r.ID
		if r.State != protocol.Sent {
			t.Errorf("%s state = %q", r.ID, r.State)
		}
	}
	if order != "abc" {
		t.Errorf("order = %s, want abc", order)
	}
	if recs[0].Text != "" {
		t.Error("duplicate replaced the original record")
	}
}

func TestTimelineCap(t *testing.T) {
	tl := NewTimeline(DefaultTimelineCap)
	for i := 0; i < DefaultTimelineCap+10; i++ {
		tl.Merge(protocol.MessageRecord{ID: fmt.Sprint(i), Timestamp: int64(i)})
	}
	recs := tl.Records()
	if len(recs) != DefaultTimelineCap {
		t.Fatalf("len = %d, want %d", len(recs), DefaultTimelineCap)
	}
	if recs[0].ID != "10" {
		t.Errorf("oldest = %s, want 10", recs[0].ID)
	}
	// Evicted ids may come back.
	if tl.Merge(protocol.MessageRecord{ID: "0", Timestamp: 1_000}) != 1 {
		t.Error("evicted id rejected")
	}
}

func TestRoster(t *testing.T) {
	r := NewRoster()
	r.Apply(&protocol.UsersList{Users: []protocol.UserPresence{{Username: "bob", Status: protocol.Away}}})
	r.Apply(&protocol.UserJoined{Username: "carol", OnlineCount: 2, Timestamp: 7})
	if r.Online() != 2 || len(r.Users()) != 2 {
		t.Fatalf("online %d users %+v", r.Online(), r.Users())
	}
	r.Apply(&protocol.UserLeft{Username: "bob", OnlineCount: 1})
	users := r.Users()
	if len(users) != 1 || users[0].Username != "carol" || users[0].Status != protocol.Online {
		t.Errorf("users = %+v", users)
	}
	r.Apply(&protocol.OnlineCount{Count: 4})
	if r.Online() != 4 {
		t.Errorf("online = %d", r.Online())
	}
	if r.Apply(&protocol.Heartbeat{}) {
		t.Error("heartbeat treated as presence")
	}
}
