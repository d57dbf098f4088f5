// Package syncclient keeps a local read-model of one session in step
// with the room's event stream. It is the contract the UI consumes:
// fetch a snapshot, subscribe, then apply deltas by id.
package syncclient

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quorumlab/quorum/internal/core"
	"github.com/quorumlab/quorum/internal/domain"
)

// Fetcher hands out the full session snapshot used to seed the model.
type Fetcher interface {
	Snapshot(ctx context.Context, sessionID domain.SessionID) (domain.Snapshot, error)
}

// Stream is a subscribed, per-room ordered event source. Recv blocks
// until the next event or a terminal error (disconnect).
type Stream interface {
	Recv() (core.Event, error)
}

// Client applies events to its local copy by id-based lookup/replace,
// never by array index. Vote events replace the whole tally for the
// affected topic; the room always emits full tallies. Events from the
// client's own writes go through the same path as everyone else's,
// which is what prevents double-counting when the event for one's own
// action arrives after the write response.
type Client struct {
	sessionID domain.SessionID

	mu       sync.RWMutex
	session  domain.Session
	topics   []domain.Topic
	tallies  map[domain.TopicID]core.Tally
	messages []domain.Message
	seen     map[domain.MessageID]struct{}
	presence []core.PresenceEntry
}

func New(sessionID domain.SessionID) *Client {
	return &Client{
		sessionID: sessionID,
		tallies:   make(map[domain.TopicID]core.Tally),
		seen:      make(map[domain.MessageID]struct{}),
	}
}

// Run seeds the model from a snapshot and then applies the stream
// until it ends. The caller must subscribe the stream before (or
// while) fetching the snapshot; applying an event that the snapshot
// already contains is harmless because application is idempotent.
func (c *Client) Run(ctx context.Context, fetcher Fetcher, stream Stream) error {
	snap, err := fetcher.Snapshot(ctx, c.sessionID)
	if err != nil {
		return err
	}
	c.Seed(snap)
	for {
		ev, err := stream.Recv()
		if err != nil {
			log.Debug().Str("module", "syncclient").Str("session", string(c.sessionID)).Err(err).Msg("stream ended")
			return err
		}
		c.Apply(ev)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Seed replaces the whole model with a snapshot. Tallies are computed
// once here; every later change arrives as a full-tally event.
func (c *Client) Seed(snap domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = snap.Session
	c.topics = append([]domain.Topic(nil), snap.Topics...)
	c.messages = nil
	c.seen = make(map[domain.MessageID]struct{})
	for _, m := range snap.Messages {
		c.seen[m.ID] = struct{}{}
		c.messages = append(c.messages, m)
	}
	byTopic := make(map[domain.TopicID]map[domain.UserID]domain.Vote)
	for _, v := range snap.Votes {
		idx := byTopic[v.TopicID]
		if idx == nil {
			idx = make(map[domain.UserID]domain.Vote)
			byTopic[v.TopicID] = idx
		}
		idx[v.UserID] = v
	}
	c.tallies = make(map[domain.TopicID]core.Tally)
	for _, t := range c.topics {
		c.tallies[t.ID] = core.ComputeTally(byTopic[t.ID])
	}
}

// Apply folds one event into the model. Safe to call with duplicates
// and with events for state the snapshot already covered.
func (c *Client) Apply(ev core.Event) {
	if ev.SessionID != "" && ev.SessionID != c.sessionID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case core.EventPresence:
		c.presence = append([]core.PresenceEntry(nil), ev.Presence...)
	case core.EventVote:
		if ev.Tally != nil {
			c.tallies[ev.TopicID] = *ev.Tally
		}
	case core.EventMessage:
		if ev.Message == nil {
			return
		}
		if _, dup := c.seen[ev.Message.ID]; dup {
			return
		}
		c.seen[ev.Message.ID] = struct{}{}
		c.messages = append(c.messages, *ev.Message)
	case core.EventTopic:
		if ev.Topic == nil {
			return
		}
		for i := range c.topics {
			if c.topics[i].ID == ev.Topic.ID {
				c.topics[i] = *ev.Topic
				return
			}
		}
		c.topics = append(c.topics, *ev.Topic)
		if _, ok := c.tallies[ev.Topic.ID]; !ok {
			c.tallies[ev.Topic.ID] = core.Tally{}
		}
	}
}

func (c *Client) Session() domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) Topics() []domain.Topic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Topic(nil), c.topics...)
}

func (c *Client) Tally(topicID domain.TopicID) core.Tally {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tallies[topicID]
}

func (c *Client) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Message(nil), c.messages...)
}

func (c *Client) Presence() []core.PresenceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.PresenceEntry(nil), c.presence...)
}
