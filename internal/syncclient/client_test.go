package syncclient

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/domain"
)

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Session: domain.Session{ID: "s1", Title: "planning", Status: domain.SessionActive},
		Topics: []domain.Topic{
			{ID: "t1", SessionID: "s1", Title: "ship it", Status: domain.TopicOpen},
		},
		Votes: []domain.Vote{
			{TopicID: "t1", UserID: "u1", Choice: domain.ChoiceYes, Weight: 1.5, CastAt: time.Now().UTC()},
		},
		Messages: []domain.Message{
			{ID: "m1", SessionID: "s1", UserID: "u1", Content: "hello", Type: domain.MessageChat},
		},
	}
}

func seeded() *Client {
	c := New("s1")
	c.Seed(testSnapshot())
	return c
}

func TestSeedComputesTallies(t *testing.T) {
	c := seeded()
	tally := c.Tally("t1")
	if tally.Yes != 1.5 || tally.Total != 1.5 {
		t.Fatalf("seeded tally = %+v, want yes 1.5", tally)
	}
}

func TestVoteEventReplacesWholeTally(t *testing.T) {
	c := seeded()
	// The room emits full tallies; the client must replace, never add.
	c.Apply(core.Event{Type: core.EventVote, SessionID: "s1", TopicID: "t1", Tally: &core.Tally{Yes: 1.5, No: 1.0, Total: 2.5}})
	c.Apply(core.Event{Type: core.EventVote, SessionID: "s1", TopicID: "t1", Tally: &core.Tally{Yes: 1.5, No: 1.0, Total: 2.5}})
	tally := c.Tally("t1")
	if tally.Total != 2.5 {
		t.Fatalf("tally = %+v, want total 2.5 after duplicate events", tally)
	}
}

func TestOwnWriteAndEventDoNotDoubleCount(t *testing.T) {
	// The event for one's own action goes through the same path as a
	// peer's; applying the write response and then the echoed event
	// leaves a single consistent tally.
	c := seeded()
	full := core.Tally{Yes: 1.5, Abstain: 0.5, Total: 2.0}
	c.Apply(core.Event{Type: core.EventVote, SessionID: "s1", TopicID: "t1", Tally: &full})
	c.Apply(core.Event{Type: core.EventVote, SessionID: "s1", TopicID: "t1", Tally: &full})
	if got := c.Tally("t1"); got != full {
		t.Fatalf("tally = %+v, want %+v", got, full)
	}
}

func TestDuplicateMessageRenderedOnce(t *testing.T) {
	// Scenario E: "m2" delivered twice; the rendered log has it once.
	c := seeded()
	msg := domain.Message{ID: "m2", SessionID: "s1", UserID: "u2", Content: "again"}
	c.Apply(core.Event{Type: core.EventMessage, SessionID: "s1", Message: &msg})
	c.Apply(core.Event{Type: core.EventMessage, SessionID: "s1", Message: &msg})
	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 (m1 + m2)", len(msgs))
	}
	if msgs[1].ID != "m2" {
		t.Fatalf("second message id = %s, want m2", msgs[1].ID)
	}
}

func TestSnapshotMessageRedeliveredViaStream(t *testing.T) {
	// The join-time race: an event for a message the snapshot already
	// contains must not render it twice.
	c := seeded()
	dup := domain.Message{ID: "m1", SessionID: "s1", UserID: "u1", Content: "hello"}
	c.Apply(core.Event{Type: core.EventMessage, SessionID: "s1", Message: &dup})
	if msgs := c.Messages(); len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
}

func TestPresenceFullListReplacement(t *testing.T) {
	c := seeded()
	c.Apply(core.Event{Type: core.EventPresence, SessionID: "s1", Presence: []core.PresenceEntry{
		{UserID: "u1", DisplayName: "Alice", Connections: 2},
		{UserID: "u2", DisplayName: "Bob", Connections: 1},
	}})
	c.Apply(core.Event{Type: core.EventPresence, SessionID: "s1", Presence: []core.PresenceEntry{
		{UserID: "u2", DisplayName: "Bob", Connections: 1},
	}})
	got := c.Presence()
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("presence = %+v, want only u2", got)
	}
}

func TestTopicUpsertById(t *testing.T) {
	c := seeded()
	newTopic := domain.Topic{ID: "t2", SessionID: "s1", Title: "budget", Status: domain.TopicOpen}
	c.Apply(core.Event{Type: core.EventTopic, SessionID: "s1", TopicID: "t2", Topic: &newTopic})
	if got := len(c.Topics()); got != 2 {
		t.Fatalf("topics = %d, want 2", got)
	}

	closed := newTopic
	closed.Status = domain.TopicClosed
	c.Apply(core.Event{Type: core.EventTopic, SessionID: "s1", TopicID: "t2", Topic: &closed})
	topics := c.Topics()
	if len(topics) != 2 {
		t.Fatalf("topics after close = %d, want 2", len(topics))
	}
	if topics[1].Status != domain.TopicClosed {
		t.Fatalf("topic t2 status = %s, want CLOSED", topics[1].Status)
	}
}

func TestEventForOtherSessionIgnored(t *testing.T) {
	c := seeded()
	other := domain.Message{ID: "mx", SessionID: "s2", Content: "wrong room"}
	c.Apply(core.Event{Type: core.EventMessage, SessionID: "s2", Message: &other})
	if msgs := c.Messages(); len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
}

type staticFetcher struct{ snap domain.Snapshot }

func (f staticFetcher) Snapshot(ctx context.Context, id domain.SessionID) (domain.Snapshot, error) {
	return f.snap, nil
}

type sliceStream struct {
	events []core.Event
	pos    int
}

func (s *sliceStream) Recv() (core.Event, error) {
	if s.pos >= len(s.events) {
		return core.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func TestRunAppliesStreamAfterSnapshot(t *testing.T) {
	c := New("s1")
	msg := domain.Message{ID: "m9", SessionID: "s1", Content: "streamed"}
	stream := &sliceStream{events: []core.Event{
		{Type: core.EventMessage, SessionID: "s1", Seq: 1, Message: &msg},
		{Type: core.EventVote, SessionID: "s1", Seq: 2, TopicID: "t1", Tally: &core.Tally{Yes: 3, Total: 3}},
	}}
	err := c.Run(context.Background(), staticFetcher{snap: testSnapshot()}, stream)
	if err != io.EOF {
		t.Fatalf("Run = %v, want io.EOF", err)
	}
	if msgs := c.Messages(); len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if tally := c.Tally("t1"); tally.Yes != 3 {
		t.Fatalf("tally = %+v, want yes 3", tally)
	}
}
