package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/quorumlab/quorum/internal/domain"
)

// Key layout, one namespace per session:
//
//	quorum:session:<id>            session JSON
//	quorum:session:<id>:topicorder topic ids in creation order (list)
//	quorum:session:<id>:topics     topic id -> topic JSON (hash)
//	quorum:session:<id>:votes      "<topicID>:<userID>" -> vote JSON (hash)
//	quorum:session:<id>:messages   message JSON in send order (list)
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis: ping")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() { _ = s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func sessionKey(id domain.SessionID) string    { return "quorum:session:" + string(id) }
func topicOrderKey(id domain.SessionID) string { return sessionKey(id) + ":topicorder" }
func topicsKey(id domain.SessionID) string     { return sessionKey(id) + ":topics" }
func votesKey(id domain.SessionID) string      { return sessionKey(id) + ":votes" }
func messagesKey(id domain.SessionID) string   { return sessionKey(id) + ":messages" }

func voteField(topicID domain.TopicID, userID domain.UserID) string {
	return string(topicID) + ":" + string(userID)
}

func (s *RedisStore) CreateSession(ctx context.Context, sess domain.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "redis: marshal session")
	}
	return errors.Wrap(s.client.Set(ctx, sessionKey(sess.ID), b, 0).Err(), "redis: create session")
}

func (s *RedisStore) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, errors.Wrap(err, "redis: get session")
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return domain.Session{}, errors.Wrap(err, "redis: decode session")
	}
	return sess, nil
}

func (s *RedisStore) CloseSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if err := sess.Transition(domain.SessionClosed); err != nil {
		return domain.Session{}, err
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return domain.Session{}, errors.Wrap(err, "redis: marshal session")
	}
	if err := s.client.Set(ctx, sessionKey(id), b, 0).Err(); err != nil {
		return domain.Session{}, errors.Wrap(err, "redis: close session")
	}
	return sess, nil
}

func (s *RedisStore) CreateTopic(ctx context.Context, t domain.Topic) error {
	sess, err := s.GetSession(ctx, t.SessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionActive {
		return ErrSessionClosed
	}
	b, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "redis: marshal topic")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, topicOrderKey(t.SessionID), string(t.ID))
		pipe.HSet(ctx, topicsKey(t.SessionID), string(t.ID), b)
		return nil
	})
	return errors.Wrap(err, "redis: create topic")
}

func (s *RedisStore) getTopic(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (domain.Topic, error) {
	raw, err := s.client.HGet(ctx, topicsKey(sessionID), string(topicID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Topic{}, ErrNotFound
	}
	if err != nil {
		return domain.Topic{}, errors.Wrap(err, "redis: get topic")
	}
	var t domain.Topic
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return domain.Topic{}, errors.Wrap(err, "redis: decode topic")
	}
	return t, nil
}

func (s *RedisStore) CloseTopic(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID) (domain.Topic, error) {
	t, err := s.getTopic(ctx, sessionID, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	t.Close()
	b, err := json.Marshal(t)
	if err != nil {
		return domain.Topic{}, errors.Wrap(err, "redis: marshal topic")
	}
	if err := s.client.HSet(ctx, topicsKey(sessionID), string(topicID), b).Err(); err != nil {
		return domain.Topic{}, errors.Wrap(err, "redis: close topic")
	}
	return t, nil
}

func (s *RedisStore) UpsertVote(ctx context.Context, sessionID domain.SessionID, v domain.Vote) error {
	t, err := s.getTopic(ctx, sessionID, v.TopicID)
	if err != nil {
		return err
	}
	if t.Status == domain.TopicClosed {
		return ErrTopicClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "redis: marshal vote")
	}
	return errors.Wrap(
		s.client.HSet(ctx, votesKey(sessionID), voteField(v.TopicID, v.UserID), b).Err(),
		"redis: upsert vote")
}

func (s *RedisStore) GetVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) (domain.Vote, error) {
	raw, err := s.client.HGet(ctx, votesKey(sessionID), voteField(topicID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Vote{}, ErrNotFound
	}
	if err != nil {
		return domain.Vote{}, errors.Wrap(err, "redis: get vote")
	}
	var v domain.Vote
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Vote{}, errors.Wrap(err, "redis: decode vote")
	}
	return v, nil
}

func (s *RedisStore) DeleteVote(ctx context.Context, sessionID domain.SessionID, topicID domain.TopicID, userID domain.UserID) error {
	return errors.Wrap(
		s.client.HDel(ctx, votesKey(sessionID), voteField(topicID, userID)).Err(),
		"redis: delete vote")
}

func (s *RedisStore) AppendMessage(ctx context.Context, m domain.Message) error {
	sess, err := s.GetSession(ctx, m.SessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionActive {
		return ErrSessionClosed
	}
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "redis: marshal message")
	}
	return errors.Wrap(s.client.RPush(ctx, messagesKey(m.SessionID), b).Err(), "redis: append message")
}

// GetSessionSnapshot reads the whole session inside one MULTI/EXEC so
// hydration sees a single consistent point in time.
func (s *RedisStore) GetSessionSnapshot(ctx context.Context, id domain.SessionID) (domain.Snapshot, error) {
	var (
		sessCmd   *redis.StringCmd
		orderCmd  *redis.StringSliceCmd
		topicsCmd *redis.MapStringStringCmd
		votesCmd  *redis.MapStringStringCmd
		msgsCmd   *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		sessCmd = pipe.Get(ctx, sessionKey(id))
		orderCmd = pipe.LRange(ctx, topicOrderKey(id), 0, -1)
		topicsCmd = pipe.HGetAll(ctx, topicsKey(id))
		votesCmd = pipe.HGetAll(ctx, votesKey(id))
		msgsCmd = pipe.LRange(ctx, messagesKey(id), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, errors.Wrap(err, "redis: snapshot")
	}
	raw, err := sessCmd.Result()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, errors.Wrap(err, "redis: snapshot session")
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap.Session); err != nil {
		return domain.Snapshot{}, errors.Wrap(err, "redis: decode session")
	}

	topicJSON := topicsCmd.Val()
	for _, topicID := range orderCmd.Val() {
		rawTopic, ok := topicJSON[topicID]
		if !ok {
			continue
		}
		var t domain.Topic
		if err := json.Unmarshal([]byte(rawTopic), &t); err != nil {
			return domain.Snapshot{}, errors.Wrap(err, "redis: decode topic")
		}
		snap.Topics = append(snap.Topics, t)
	}

	for field, rawVote := range votesCmd.Val() {
		var v domain.Vote
		if err := json.Unmarshal([]byte(rawVote), &v); err != nil {
			return domain.Snapshot{}, errors.Wrapf(err, "redis: decode vote %s", field)
		}
		snap.Votes = append(snap.Votes, v)
	}

	for _, rawMsg := range msgsCmd.Val() {
		var m domain.Message
		if err := json.Unmarshal([]byte(rawMsg), &m); err != nil {
			return domain.Snapshot{}, errors.Wrap(err, "redis: decode message")
		}
		snap.Messages = append(snap.Messages, m)
	}
	return snap, nil
}
