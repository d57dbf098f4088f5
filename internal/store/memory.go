package store

import (
	"context"
	"sync"

	"github.com/quorumlab/quorum/internal/domain"
)

type sessionRecord struct {
	session  domain.Session
	topics   []domain.Topic
	votes    map[domain.TopicID]map[domain.UserID]domain.Vote
	messages []domain.Message
}

// MemoryStore is a single-node Store used in tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionRecord
	topics   map[domain.TopicID]domain.SessionID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[domain.SessionID]*sessionRecord),
		topics:   make(map[domain.TopicID]domain.SessionID),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateSession(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &sessionRecord{
		session: sess,
		votes:   make(map[domain.TopicID]map[domain.UserID]domain.Vote),
	}
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return rec.session, nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	if err := rec.session.Transition(domain.SessionClosed); err != nil {
		return domain.Session{}, err
	}
	return rec.session, nil
}

func (s *MemoryStore) CreateTopic(ctx context.Context, t domain.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[t.SessionID]
	if !ok {
		return ErrNotFound
	}
	if rec.session.Status != domain.SessionActive {
		return ErrSessionClosed
	}
	rec.topics = append(rec.topics, t)
	s.topics[t.ID] = t.SessionID
	return nil
}

func (s *MemoryStore) CloseTopic(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.Topic{}, ErrNotFound
	}
	for i := range rec.topics {
		if rec.topics[i].ID == topicID {
			rec.topics[i].Close()
			return rec.topics[i], nil
		}
	}
	return domain.Topic{}, ErrNotFound
}

func (s *MemoryStore) UpsertVote(ctx context.Context, sessionID domain.SessionID, v domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	var topic *domain.Topic
	for i := range rec.topics {
		if rec.topics[i].ID == v.TopicID {
			topic = &rec.topics[i]
			break
		}
	}
	if topic == nil {
		return ErrNotFound
	}
	if topic.Status == domain.TopicClosed {
		return ErrTopicClosed
	}
	idx := rec.votes[v.TopicID]
	if idx == nil {
		idx = make(map[domain.UserID]domain.Vote)
		rec.votes[v.TopicID] = idx
	}
	idx[v.UserID] = v
	return nil
}

func (s *MemoryStore) GetVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) (domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return domain.Vote{}, ErrNotFound
	}
	v, ok := rec.votes[topicID][userID]
	if !ok {
		return domain.Vote{}, ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) DeleteVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	delete(rec.votes[topicID], userID)
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[m.SessionID]
	if !ok {
		return ErrNotFound
	}
	if rec.session.Status != domain.SessionActive {
		return ErrSessionClosed
	}
	rec.messages = append(rec.messages, m)
	return nil
}

func (s *MemoryStore) GetSessionSnapshot(ctx context.Context, id domain.SessionID) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return domain.Snapshot{}, ErrNotFound
	}
	snap := domain.Snapshot{
		Session:  rec.session,
		Topics:   append([]domain.Topic(nil), rec.topics...),
		Messages: append([]domain.Message(nil), rec.messages...),
	}
	for _, idx := range rec.votes {
		for _, v := range idx {
			snap.Votes = append(snap.Votes, v)
		}
	}
	return snap, nil
}
