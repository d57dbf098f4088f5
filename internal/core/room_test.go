package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quorumlab/quorum/internal/domain"
)

type fakeSub struct {
	mu     sync.Mutex
	events []Event
	full   bool
	closed bool
}

func (f *fakeSub) TrySend(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("backpressure")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSub) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSub) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeSub) eventsOf(typ EventType) []Event {
	var out []Event
	for _, ev := range f.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Session: domain.Session{ID: "s1", Title: "planning", Status: domain.SessionActive},
		Topics: []domain.Topic{
			{ID: "t1", SessionID: "s1", Title: "ship it", Status: domain.TopicOpen},
		},
	}
}

func newTestRoom() *Room {
	return NewRoom(testSnapshot(), nil)
}

func TestApplyVoteSingleEntryPerUser(t *testing.T) {
	r := newTestRoom()
	ts := time.Now().UTC()

	// Scenario B: U1 votes YES then NO; only NO remains.
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.5, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	tally, err := r.ApplyVote("t1", "u1", domain.ChoiceNo, 1.5, ts.Add(time.Second))
	if err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	want := Tally{No: 1.5, Total: 1.5}
	if tally != want {
		t.Fatalf("tally = %+v, want %+v", tally, want)
	}
	if _, ok := r.VoteFor("t1", "u1"); !ok {
		t.Fatal("expected vote entry for u1")
	}
}

func TestApplyVoteTwoUsersWeighted(t *testing.T) {
	// Scenario A.
	r := newTestRoom()
	ts := time.Now().UTC()
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.5, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	tally, err := r.ApplyVote("t1", "u2", domain.ChoiceNo, 1.0, ts)
	if err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	want := Tally{Yes: 1.5, No: 1.0, Abstain: 0, Total: 2.5}
	if tally != want {
		t.Fatalf("tally = %+v, want %+v", tally, want)
	}
}

func TestApplyVoteStaleTimestampIgnored(t *testing.T) {
	r := newTestRoom()
	ts := time.Now().UTC()
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceNo, 1.0, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	// Out-of-order delivery of an older superseded write.
	tally, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.0, ts.Add(-time.Second))
	if err != nil {
		t.Fatalf("stale ApplyVote should not error: %v", err)
	}
	if tally.No != 1.0 || tally.Yes != 0 {
		t.Fatalf("stale write changed tally: %+v", tally)
	}
}

func TestApplyVoteWeightPinned(t *testing.T) {
	r := newTestRoom()
	ts := time.Now().UTC()
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.0, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	// A later cast with a different weight keeps the original one.
	tally, err := r.ApplyVote("t1", "u1", domain.ChoiceNo, 1.5, ts.Add(time.Second))
	if err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	if tally.No != 1.0 {
		t.Fatalf("weight not pinned: %+v", tally)
	}
}

func TestApplyVoteClosedTopic(t *testing.T) {
	r := newTestRoom()
	if err := r.CloseTopic("t1"); err != nil {
		t.Fatalf("CloseTopic: %v", err)
	}
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.0, time.Now().UTC()); !errors.Is(err, ErrTopicClosed) {
		t.Fatalf("expected ErrTopicClosed, got %v", err)
	}
}

func TestApplyVoteUnknownTopic(t *testing.T) {
	r := newTestRoom()
	if _, err := r.ApplyVote("nope", "u1", domain.ChoiceYes, 1.0, time.Now().UTC()); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}

func TestRetractVoteNeverCast(t *testing.T) {
	// Scenario C: retracting a vote that was never cast is a no-op.
	r := newTestRoom()
	ts := time.Now().UTC()
	if _, err := r.ApplyVote("t1", "u2", domain.ChoiceYes, 1.0, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	before := r.TallyFor("t1")
	after := r.RetractVote("t1", "u1")
	if before != after {
		t.Fatalf("tally changed by empty retract: %+v -> %+v", before, after)
	}
}

func TestRetractVoteEmitsUpdatedTally(t *testing.T) {
	r := newTestRoom()
	sub := &fakeSub{}
	release := r.Subscribe(sub)
	defer release()

	ts := time.Now().UTC()
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.5, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	tally := r.RetractVote("t1", "u1")
	if tally != (Tally{}) {
		t.Fatalf("tally after retract = %+v, want zero", tally)
	}
	voteEvents := sub.eventsOf(EventVote)
	if len(voteEvents) != 2 {
		t.Fatalf("expected 2 vote events, got %d", len(voteEvents))
	}
	last := voteEvents[len(voteEvents)-1]
	if last.Tally == nil || *last.Tally != (Tally{}) {
		t.Fatalf("retract event tally = %+v, want zero", last.Tally)
	}
}

func TestPresenceConnectionCounting(t *testing.T) {
	// Scenario D: two tabs, closing one keeps the user online; closing
	// both goes offline with exactly one presence event for the
	// offline transition.
	r := newTestRoom()
	watcher := &fakeSub{}
	release := r.Subscribe(watcher)
	defer release()

	tab1, tab2 := &fakeSub{}, &fakeSub{}
	r.Join("u1", "Alice", tab1)
	joinEvents := watcher.eventsOf(EventPresence)
	if len(joinEvents) != 1 {
		t.Fatalf("expected 1 presence event after first tab, got %d", len(joinEvents))
	}

	r.Join("u1", "Alice", tab2)
	if n := len(watcher.eventsOf(EventPresence)); n != 1 {
		t.Fatalf("second tab emitted a presence event: %d", n)
	}

	r.Leave(tab1)
	if n := len(watcher.eventsOf(EventPresence)); n != 1 {
		t.Fatalf("closing one of two tabs emitted a presence event: %d", n)
	}
	if got := r.PresenceSnapshot(); len(got) != 1 || got[0].Connections != 1 {
		t.Fatalf("presence after one tab closed = %+v", got)
	}

	r.Leave(tab2)
	events := watcher.eventsOf(EventPresence)
	if len(events) != 2 {
		t.Fatalf("expected exactly one offline presence event, got %d total", len(events))
	}
	if got := len(events[len(events)-1].Presence); got != 0 {
		t.Fatalf("final presence list has %d entries, want 0", got)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	r := newTestRoom()
	sub := &fakeSub{}
	r.Join("u1", "Alice", sub)
	r.Leave(sub)
	r.Leave(sub) // must be a no-op, never an error or a second event
	if got := r.PresenceSnapshot(); len(got) != 0 {
		t.Fatalf("presence = %+v, want empty", got)
	}
}

func TestLeaveWithoutJoin(t *testing.T) {
	r := newTestRoom()
	r.Leave(&fakeSub{})
	if got := r.PresenceSnapshot(); len(got) != 0 {
		t.Fatalf("presence = %+v, want empty", got)
	}
}

func TestAppendMessageDedup(t *testing.T) {
	r := newTestRoom()
	sub := &fakeSub{}
	release := r.Subscribe(sub)
	defer release()

	msg := domain.Message{ID: "m1", SessionID: "s1", UserID: "u1", Content: "hi", Type: domain.MessageChat}
	if !r.AppendMessage(msg) {
		t.Fatal("first append rejected")
	}
	if r.AppendMessage(msg) {
		t.Fatal("duplicate append accepted")
	}
	if n := len(sub.eventsOf(EventMessage)); n != 1 {
		t.Fatalf("expected 1 message event, got %d", n)
	}
}

func TestAppendMessageDedupWindowBounded(t *testing.T) {
	r := newTestRoom()
	for i := 0; i < DedupWindow; i++ {
		r.AppendMessage(domain.Message{ID: domain.MessageID(fmt.Sprintf("m%d", i)), SessionID: "s1"})
	}
	// m0 falls out of the window once one more id arrives.
	r.AppendMessage(domain.Message{ID: "overflow", SessionID: "s1"})
	if !r.AppendMessage(domain.Message{ID: "m0", SessionID: "s1"}) {
		t.Fatal("id outside the window should be accepted again")
	}
	if r.AppendMessage(domain.Message{ID: "overflow", SessionID: "s1"}) {
		t.Fatal("id inside the window must still dedup")
	}
}

func TestHydratedMessagesSeedDedupWindow(t *testing.T) {
	snap := testSnapshot()
	snap.Messages = []domain.Message{{ID: "m1", SessionID: "s1", Content: "hello"}}
	r := NewRoom(snap, nil)
	if r.AppendMessage(domain.Message{ID: "m1", SessionID: "s1", Content: "hello"}) {
		t.Fatal("redelivery of a hydrated message must be dropped")
	}
}

func TestEventOrderingPerRoom(t *testing.T) {
	r := newTestRoom()
	sub := &fakeSub{}
	release := r.Subscribe(sub)
	defer release()

	ts := time.Now().UTC()
	r.AppendMessage(domain.Message{ID: "m1", SessionID: "s1"})
	if _, err := r.ApplyVote("t1", "u1", domain.ChoiceYes, 1.0, ts); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	r.AppendMessage(domain.Message{ID: "m2", SessionID: "s1"})

	events := sub.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("event seq not increasing: %d then %d", events[i-1].Seq, events[i].Seq)
		}
	}
	if events[0].Type != EventMessage || events[1].Type != EventVote || events[2].Type != EventMessage {
		t.Fatalf("events out of order: %v %v %v", events[0].Type, events[1].Type, events[2].Type)
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	r := newTestRoom()
	slow := &fakeSub{full: true}
	fast := &fakeSub{}
	r.Subscribe(slow)
	r.Subscribe(fast)

	r.AppendMessage(domain.Message{ID: "m1", SessionID: "s1"})

	if !slow.closed {
		t.Fatal("slow subscriber was not disconnected")
	}
	if r.SubscriberCount() != 1 {
		t.Fatalf("subscriber count = %d, want 1", r.SubscriberCount())
	}
	if n := len(fast.eventsOf(EventMessage)); n != 1 {
		t.Fatalf("fast subscriber got %d events, want 1", n)
	}
}

func TestSubscribeReleaseOnce(t *testing.T) {
	r := newTestRoom()
	sub := &fakeSub{}
	release := r.Subscribe(sub)
	release()
	release() // second call must be harmless
	if r.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", r.SubscriberCount())
	}
	r.AppendMessage(domain.Message{ID: "m1", SessionID: "s1"})
	if len(sub.Events()) != 0 {
		t.Fatal("released subscriber still received events")
	}
}

func TestAddTopicIdempotent(t *testing.T) {
	r := newTestRoom()
	sub := &fakeSub{}
	release := r.Subscribe(sub)
	defer release()

	topic := domain.Topic{ID: "t2", SessionID: "s1", Title: "budget", Status: domain.TopicOpen}
	r.AddTopic(topic)
	r.AddTopic(topic)
	if n := len(sub.eventsOf(EventTopic)); n != 1 {
		t.Fatalf("expected 1 topic event, got %d", n)
	}
	if n := len(r.Topics()); n != 2 {
		t.Fatalf("topics = %d, want 2", n)
	}
}

func TestConcurrentVoters(t *testing.T) {
	r := newTestRoom()
	ts := time.Now().UTC()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := domain.UserID(fmt.Sprintf("u%d", i))
			choice := domain.ChoiceYes
			if i%2 == 1 {
				choice = domain.ChoiceNo
			}
			if _, err := r.ApplyVote("t1", user, choice, 1.0, ts); err != nil {
				t.Errorf("ApplyVote(%s): %v", user, err)
			}
		}(i)
	}
	wg.Wait()
	tally := r.TallyFor("t1")
	if tally.Total != 50 || tally.Yes != 25 || tally.No != 25 {
		t.Fatalf("tally = %+v, want 25/25/50", tally)
	}
}
