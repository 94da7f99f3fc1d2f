package client

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
	"github.com/matheus3301/relay/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLink struct {
	mu       sync.Mutex
	open     bool
	sendErr  error
	sent     []protocol.Message
	connects int
}

func (l *fakeLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *fakeLink) Send(f protocol.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, f.(protocol.Message))
	return nil
}

func (l *fakeLink) Connect() {
	l.mu.Lock()
	l.connects++
	l.mu.Unlock()
}

func (l *fakeLink) setOpen(open bool) {
	l.mu.Lock()
	l.open = open
	l.mu.Unlock()
}

func (l *fakeLink) sentIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, len(l.sent))
	for i, m := range l.sent {
		ids[i] = m.ID
	}
	return ids
}

func newPending(t *testing.T, open bool, queue Queue) (*Pending, *fakeLink, *sched.Manual, *bus.Bus) {
	t.Helper()
	link := &fakeLink{open: open}
	clock := sched.NewManual(epoch)
	b := bus.New()
	p := NewPending(link, queue, clock, b, PendingOptions{}, zap.NewNop())
	p.SetAuthor("alice")
	return p, link, clock, b
}

func stateOf(t *testing.T, p *Pending, id string) protocol.DeliveryState {
	t.Helper()
	rec, _, ok := p.Get(id)
	if !ok {
		return protocol.Sent
	}
	return rec.State
}

func drain(ch <-chan bus.Event) []string {
	var kinds []string
	for {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		default:
			return kinds
		}
	}
}

func TestSubmitSendsAndReconciles(t *testing.T) {
	queue := NewMemoryQueue()
	p, link, clock, b := newPending(t, true, queue)
	events, unsub := b.Subscribe("delivery.", 16)
	defer unsub()

	rec, err := p.Submit("  hello  ")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Text != "hello" || rec.Author != "alice" || rec.ID == "" || rec.State != protocol.Pending {
		t.Errorf("record = %+v", rec)
	}
	if rec.Timestamp != epoch.UnixMilli() {
		t.Errorf("timestamp = %d", rec.Timestamp)
	}
	if ids := link.sentIDs(); len(ids) != 1 || ids[0] != rec.ID {
		t.Fatalf("sent = %v", ids)
	}
	if saved, _ := queue.PendingOutbox(); len(saved) != 1 {
		t.Fatalf("offline queue has %d entries, want 1", len(saved))
	}

	if !p.Reconcile(rec.ID) {
		t.Fatal("Reconcile() = false for a pending message")
	}
	if p.Reconcile(rec.ID) {
		t.Error("second Reconcile() = true")
	}
	if saved, _ := queue.PendingOutbox(); len(saved) != 0 {
		t.Errorf("offline queue still has %d entries", len(saved))
	}
	if clock.Pending() != 0 {
		t.Errorf("%d timers left after reconcile", clock.Pending())
	}

	got := drain(events)
	want := []string{bus.DeliveryQueued, bus.DeliveryTry, bus.DeliverySent}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSubmitRejectsEmpty(t *testing.T) {
	p, link, _, _ := newPending(t, true, nil)
	if _, err := p.Submit(" \n "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Submit(blank) error = %v", err)
	}
	if len(link.sentIDs()) != 0 {
		t.Error("blank message sent")
	}
}

// Three unacknowledged transmissions, then failed, and nothing after that.
func TestDeliveryTimeoutsEndInFailure(t *testing.T) {
	p, link, clock, b := newPending(t, true, nil)
	failed, unsub := b.Subscribe(bus.DeliveryFailed, 4)
	defer unsub()

	rec, _ := p.Submit("m2")
	for i := 1; i <= 2; i++ {
		if clock.Pending() != 1 {
			t.Fatalf("after send %d: %d timers armed, want 1", i, clock.Pending())
		}
		clock.Advance(10 * time.Second)
		if n := len(link.sentIDs()); n != i+1 {
			t.Fatalf("after timeout %d: sent %d times, want %d", i, n, i+1)
		}
		if stateOf(t, p, rec.ID) != protocol.Pending {
			t.Fatalf("state after timeout %d = %s", i, stateOf(t, p, rec.ID))
		}
	}

	clock.Advance(10 * time.Second)
	if got := stateOf(t, p, rec.ID); got != protocol.Failed {
		t.Fatalf("state = %s, want failed", got)
	}
	if clock.Pending() != 0 {
		t.Errorf("%d timers armed after failure", clock.Pending())
	}
	clock.Advance(time.Hour)
	if n := len(link.sentIDs()); n != 3 {
		t.Errorf("sent %d times, want 3", n)
	}
	if _, attempts, _ := p.Get(rec.ID); attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	select {
	case <-failed:
	default:
		t.Error("no delivery.failed event")
	}
}

func TestLateEchoAfterTimeoutStillReconciles(t *testing.T) {
	p, link, clock, _ := newPending(t, true, nil)
	rec, _ := p.Submit("slow")
	clock.Advance(10 * time.Second)
	if len(link.sentIDs()) != 2 {
		t.Fatal("no retransmission after timeout")
	}
	if !p.Reconcile(rec.ID) {
		t.Fatal("echo not reconciled")
	}
	clock.Advance(time.Minute)
	if n := len(link.sentIDs()); n != 2 {
		t.Errorf("sent %d times after reconcile, want 2", n)
	}
}

// Offline: a message is queued, retried, parked, and only sent after the
// link comes back.
func TestOfflineMessageReplaysOnFlush(t *testing.T) {
	queue := NewMemoryQueue()
	p, link, clock, _ := newPending(t, false, queue)

	rec, err := p.Submit("m1")
	if err != nil {
		t.Fatal(err)
	}
	if link.connects != 1 {
		t.Errorf("connects = %d, want 1", link.connects)
	}
	clock.Advance(5 * time.Second)
	clock.Advance(5 * time.Second)
	if link.connects != 3 {
		t.Errorf("connects = %d, want 3", link.connects)
	}
	if clock.Pending() != 0 {
		t.Errorf("%d timers armed, want the entry parked", clock.Pending())
	}
	clock.Advance(time.Hour)
	if got := stateOf(t, p, rec.ID); got != protocol.Pending {
		t.Fatalf("offline message state = %s, want pending", got)
	}
	if len(link.sentIDs()) != 0 {
		t.Fatal("sent while offline")
	}
	if saved, _ := queue.PendingOutbox(); len(saved) != 1 || saved[0].ID != rec.ID {
		t.Fatalf("offline queue = %+v", saved)
	}

	link.setOpen(true)
	p.Flush()
	if ids := link.sentIDs(); len(ids) != 1 || ids[0] != rec.ID {
		t.Fatalf("sent after flush = %v", ids)
	}
	if _, attempts, _ := p.Get(rec.ID); attempts != 1 {
		t.Errorf("attempts after replay = %d, want 1", attempts)
	}
	p.Reconcile(rec.ID)
	if stateOf(t, p, rec.ID) != protocol.Sent {
		t.Error("not sent after echo")
	}
}

func TestFlushStaggersOldestFirst(t *testing.T) {
	p, link, clock, _ := newPending(t, false, nil)
	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		rec, _ := p.Submit(text)
		ids = append(ids, rec.ID)
		clock.Advance(time.Millisecond)
	}
	clock.Advance(time.Minute)

	link.setOpen(true)
	p.Flush()
	if n := len(link.sentIDs()); n != 1 {
		t.Fatalf("sent %d immediately, want 1", n)
	}
	clock.Advance(499 * time.Millisecond)
	if n := len(link.sentIDs()); n != 1 {
		t.Fatalf("sent %d before the stagger, want 1", n)
	}
	clock.Advance(time.Millisecond)
	clock.Advance(500 * time.Millisecond)
	got := link.sentIDs()
	if len(got) != 3 {
		t.Fatalf("sent %d after stagger, want 3", len(got))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("send %d = %s, want %s", i, got[i], ids[i])
		}
	}
}

func TestFlushSkipsFailed(t *testing.T) {
	p, link, clock, _ := newPending(t, true, nil)
	rec, _ := p.Submit("x")
	clock.Advance(30 * time.Second)
	if stateOf(t, p, rec.ID) != protocol.Failed {
		t.Fatal("not failed")
	}
	p.Flush()
	if n := len(link.sentIDs()); n != 3 {
		t.Errorf("Flush resent a failed message: %d sends", n)
	}
}

func TestLinkDropDuringLastTimeoutParks(t *testing.T) {
	p, _, clock, _ := newPending(t, true, nil)
	link := p.link.(*fakeLink)
	rec, _ := p.Submit("x")
	clock.Advance(20 * time.Second)
	link.setOpen(false)
	clock.Advance(10 * time.Second)
	if got := stateOf(t, p, rec.ID); got != protocol.Pending {
		t.Errorf("state = %s, want pending while offline", got)
	}
}

func TestSendErrorSchedulesRetry(t *testing.T) {
	p, link, clock, _ := newPending(t, true, nil)
	link.sendErr = errors.New("broken pipe")
	rec, _ := p.Submit("x")
	if link.connects != 1 {
		t.Errorf("connects = %d, want 1", link.connects)
	}

	link.mu.Lock()
	link.sendErr = nil
	link.mu.Unlock()
	clock.Advance(5 * time.Second)
	if ids := link.sentIDs(); len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("sent after retry = %v", ids)
	}
}

func TestSendErrorParksAfterBudget(t *testing.T) {
	p, link, clock, _ := newPending(t, true, nil)
	link.sendErr = errors.New("broken pipe")
	rec, _ := p.Submit("x")

	clock.Advance(100 * time.Second)
	got, attempts, ok := p.Get(rec.ID)
	if !ok || got.State != protocol.Pending {
		t.Fatalf("entry = %+v ok = %v, want parked pending", got, ok)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if link.connects != 3 {
		t.Errorf("connects = %d, want one per attempt", link.connects)
	}
	if clock.Pending() != 0 {
		t.Errorf("%d timers armed for a parked entry", clock.Pending())
	}

	link.mu.Lock()
	link.sendErr = nil
	link.mu.Unlock()
	p.Flush()
	if ids := link.sentIDs(); len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("sent after flush = %v", ids)
	}
}

func TestRetry(t *testing.T) {
	p, link, clock, _ := newPending(t, true, nil)
	rec, _ := p.Submit("x")

	if err := p.Retry(rec.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Retry(pending) error = %v", err)
	}
	if err := p.Retry("nope"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Retry(unknown) error = %v", err)
	}

	clock.Advance(30 * time.Second)
	if err := p.Retry(rec.ID); err != nil {
		t.Fatal(err)
	}
	if got := stateOf(t, p, rec.ID); got != protocol.Pending {
		t.Errorf("state after retry = %s", got)
	}
	if n := len(link.sentIDs()); n != 4 {
		t.Errorf("sent %d times, want 4", n)
	}
	if _, attempts, _ := p.Get(rec.ID); attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if n := p.RetryFailed(); n != 0 {
		t.Errorf("RetryFailed() = %d with nothing failed", n)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	p, link, clock, _ := newPending(t, true, nil)
	rec, _ := p.Submit("x")
	p.Stop()
	if clock.Pending() != 0 {
		t.Errorf("%d timers armed after Stop", clock.Pending())
	}
	clock.Advance(time.Hour)
	if n := len(link.sentIDs()); n != 1 {
		t.Errorf("sent %d times after Stop, want 1", n)
	}
	if got := stateOf(t, p, rec.ID); got != protocol.Pending {
		t.Errorf("state = %s, want pending", got)
	}
	if _, err := p.Submit("y"); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after Stop error = %v", err)
	}
	p.Flush()
	if n := len(link.sentIDs()); n != 1 {
		t.Error("Flush sent after Stop")
	}
}

func TestRestoreFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := store.OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	p, _, _, _ := newPending(t, false, db)
	rec, _ := p.Submit("survives restart")
	p.Stop()
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = store.OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	restored, link, _, _ := newPending(t, true, db)
	n, err := restored.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}
	got, _, ok := restored.Get(rec.ID)
	if !ok || got.Text != "survives restart" || got.Author != "alice" || got.State != protocol.Pending {
		t.Fatalf("restored = %+v, %v", got, ok)
	}
	if len(link.sentIDs()) != 0 {
		t.Fatal("Restore sent before Flush")
	}

	restored.Flush()
	if ids := link.sentIDs(); len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("sent = %v", ids)
	}
	restored.Reconcile(rec.ID)
	if saved, _ := db.PendingOutbox(); len(saved) != 0 {
		t.Errorf("offline queue = %+v after echo", saved)
	}
}
