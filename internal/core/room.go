package core

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/domain"
)

// DedupWindow bounds the per-room set of recently seen message ids.
// The write path and the event path can both attempt delivery of the
// same message; anything inside the window is applied exactly once.
const DedupWindow = 512

var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrTopicClosed   = errors.New("topic closed")
)

type presenceState struct {
	displayName string
	conns       int
}

// Room is the per-session concurrency domain. It owns the in-memory
// mirror of presence, votes and recent message ids for one session and
// is the single serialization point for all of them. Mutations to one
// room never block another.
//
// The room never closes adapter-owned resources except when its
// backpressure policy asks for a disconnect.
type Room struct {
	sessionID domain.SessionID
	policy    Policy

	mu         sync.Mutex
	seq        uint64
	presence   map[domain.UserID]*presenceState
	owners     map[Subscriber]domain.UserID
	topics     map[domain.TopicID]*domain.Topic
	topicOrder []domain.TopicID
	votes      map[domain.TopicID]map[domain.UserID]domain.Vote
	recent     map[domain.MessageID]struct{}
	recentRing []domain.MessageID
	recentNext int
	subs       map[Subscriber]struct{}
}

// NewRoom hydrates a room from a single consistent snapshot. Storage
// stays the system of record; the room is a derived, rebuildable cache.
func NewRoom(snap domain.Snapshot, policy Policy) *Room {
	if policy == nil {
		policy = SimplePolicy{}
	}
	r := &Room{
		sessionID: snap.Session.ID,
		policy:    policy,
		presence:  make(map[domain.UserID]*presenceState),
		owners:    make(map[Subscriber]domain.UserID),
		topics:    make(map[domain.TopicID]*domain.Topic),
		votes:     make(map[domain.TopicID]map[domain.UserID]domain.Vote),
		recent:    make(map[domain.MessageID]struct{}),
		subs:      make(map[Subscriber]struct{}),
	}
	for i := range snap.Topics {
		t := snap.Topics[i]
		r.topics[t.ID] = &t
		r.topicOrder = append(r.topicOrder, t.ID)
	}
	for _, v := range snap.Votes {
		idx := r.votes[v.TopicID]
		if idx == nil {
			idx = make(map[domain.UserID]domain.Vote)
			r.votes[v.TopicID] = idx
		}
		idx[v.UserID] = v
	}
	// Only the tail of the log can still race with in-flight deliveries.
	msgs := snap.Messages
	if len(msgs) > DedupWindow {
		msgs = msgs[len(msgs)-DedupWindow:]
	}
	for _, m := range msgs {
		r.rememberLocked(m.ID)
	}
	return r
}

func (r *Room) SessionID() domain.SessionID { return r.sessionID }

// Subscribe registers a transport endpoint to receive all subsequent
// events for this room. The returned release function is safe to call
// more than once but releases exactly once.
func (r *Room) Subscribe(sub Subscriber) func() {
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, sub)
			r.mu.Unlock()
		})
	}
}

func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Join registers a connection for userID and returns the full presence
// list to seed the newly joined client. Only the user's first
// connection emits a presence event; a second tab is invisible to
// everyone else.
func (r *Room) Join(userID domain.UserID, displayName string, sub Subscriber) []PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, joined := r.owners[sub]; joined {
		return r.presenceSnapshotLocked()
	}
	r.owners[sub] = userID
	st := r.presence[userID]
	first := st == nil
	if st == nil {
		st = &presenceState{displayName: displayName}
		r.presence[userID] = st
	}
	st.conns++
	log.Debug().Str("module", "core.room").Str("session", string(r.sessionID)).Str("user", string(userID)).Int("conns", st.conns).Msg("joined")
	if first {
		r.emitLocked(Event{Type: EventPresence, Presence: r.presenceSnapshotLocked()})
	}
	return r.presenceSnapshotLocked()
}

// Leave decrements the presence count for the connection's owner.
// Idempotent: leaving twice, or leaving without a join, is a no-op.
func (r *Room) Leave(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.owners[sub]
	if !ok {
		return
	}
	delete(r.owners, sub)
	st := r.presence[userID]
	if st == nil {
		return
	}
	st.conns--
	log.Debug().Str("module", "core.room").Str("session", string(r.sessionID)).Str("user", string(userID)).Int("conns", st.conns).Msg("left")
	if st.conns <= 0 {
		delete(r.presence, userID)
		r.emitLocked(Event{Type: EventPresence, Presence: r.presenceSnapshotLocked()})
	}
}

// ApplyVote inserts or overwrites the (topic, user) entry, guarded by
// the server-assigned timestamp: an entry is only replaced by one that
// is not older. A stale write is silently superseded, not an error.
// The weight set at first cast is pinned for the life of the entry.
func (r *Room) ApplyVote(topicID domain.TopicID, userID domain.UserID, choice domain.Choice, weight float64, serverTS time.Time) (Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[topicID]
	if !ok {
		return Tally{}, ErrTopicNotFound
	}
	if t.Status == domain.TopicClosed {
		return Tally{}, ErrTopicClosed
	}
	idx := r.votes[topicID]
	if idx == nil {
		idx = make(map[domain.UserID]domain.Vote)
		r.votes[topicID] = idx
	}
	if cur, exists := idx[userID]; exists {
		if serverTS.Before(cur.CastAt) {
			return ComputeTally(idx), nil
		}
		weight = cur.Weight
	}
	idx[userID] = domain.Vote{
		TopicID: topicID,
		UserID:  userID,
		Choice:  choice,
		Weight:  weight,
		CastAt:  serverTS,
	}
	tally := ComputeTally(idx)
	r.emitLocked(Event{Type: EventVote, TopicID: topicID, Tally: &tally})
	return tally, nil
}

// RetractVote removes the entry if present and broadcasts the updated
// tally. Retracting a vote that was never cast is a no-op.
func (r *Room) RetractVote(topicID domain.TopicID, userID domain.UserID) Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.votes[topicID]
	tally := ComputeTally(idx)
	if idx == nil {
		return tally
	}
	if _, ok := idx[userID]; !ok {
		return tally
	}
	delete(idx, userID)
	tally = ComputeTally(idx)
	r.emitLocked(Event{Type: EventVote, TopicID: topicID, Tally: &tally})
	return tally
}

// AppendMessage emits a message event unless the id was already seen
// inside the dedup window. Duplicates are silently dropped; reports
// whether the message was accepted.
func (r *Room) AppendMessage(msg domain.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.recent[msg.ID]; dup {
		log.Debug().Str("module", "core.room").Str("session", string(r.sessionID)).Str("msg", string(msg.ID)).Msg("duplicate message dropped")
		return false
	}
	r.rememberLocked(msg.ID)
	m := msg
	r.emitLocked(Event{Type: EventMessage, Message: &m})
	return true
}

// AddTopic mirrors a freshly created topic into the room and announces
// it. Re-adding a known topic is a no-op.
func (r *Room) AddTopic(topic domain.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[topic.ID]; ok {
		return
	}
	t := topic
	r.topics[t.ID] = &t
	r.topicOrder = append(r.topicOrder, t.ID)
	r.emitLocked(Event{Type: EventTopic, TopicID: t.ID, Topic: &t})
}

// CloseTopic freezes the topic's vote index from further mutation.
func (r *Room) CloseTopic(topicID domain.TopicID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[topicID]
	if !ok {
		return ErrTopicNotFound
	}
	if t.Status == domain.TopicClosed {
		return nil
	}
	t.Close()
	closed := *t
	r.emitLocked(Event{Type: EventTopic, TopicID: t.ID, Topic: &closed})
	return nil
}

func (r *Room) PresenceSnapshot() []PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceSnapshotLocked()
}

func (r *Room) TallyFor(topicID domain.TopicID) Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ComputeTally(r.votes[topicID])
}

// VoteFor reports the user's current vote on a topic, if any.
func (r *Room) VoteFor(topicID domain.TopicID, userID domain.UserID) (domain.Vote, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.votes[topicID][userID]
	return v, ok
}

func (r *Room) Topics() []domain.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Topic, 0, len(r.topicOrder))
	for _, id := range r.topicOrder {
		out = append(out, *r.topics[id])
	}
	return out
}

func (r *Room) presenceSnapshotLocked() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(r.presence))
	for id, st := range r.presence {
		out = append(out, PresenceEntry{UserID: id, DisplayName: st.displayName, Connections: st.conns})
	}
	return out
}

// rememberLocked records a message id in the bounded window, evicting
// the oldest id once the ring is full.
func (r *Room) rememberLocked(id domain.MessageID) {
	if len(r.recentRing) < DedupWindow {
		r.recentRing = append(r.recentRing, id)
	} else {
		delete(r.recent, r.recentRing[r.recentNext])
		r.recentRing[r.recentNext] = id
		r.recentNext = (r.recentNext + 1) % DedupWindow
	}
	r.recent[id] = struct{}{}
}

// emitLocked fans the event out to every current subscriber in the
// order the room applied it. Delivery is a non-blocking enqueue; a full
// queue is handed to the backpressure policy so a slow subscriber never
// stalls the write that produced the event.
func (r *Room) emitLocked(ev Event) {
	r.seq++
	ev.Seq = r.seq
	ev.SessionID = r.sessionID
	sent, dropped := 0, 0
	for sub := range r.subs {
		if err := sub.TrySend(ev); err != nil {
			dropped++
			switch r.policy.OnBackpressure(sub) {
			case DisconnectSubscriber:
				delete(r.subs, sub)
				sub.Close()
			case DropEvent, NoAction:
			}
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.room").Str("session", string(r.sessionID)).Str("event", string(ev.Type)).Uint64("seq", ev.Seq).Int("sent_to", sent).Int("dropped", dropped).Msg("fanout")
}
