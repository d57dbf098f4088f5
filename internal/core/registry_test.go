package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumlab/quorum/internal/domain"
)

type countingHydrator struct {
	calls atomic.Int64
	err   error
}

func (h *countingHydrator) GetSessionSnapshot(ctx context.Context, id domain.SessionID) (domain.Snapshot, error) {
	h.calls.Add(1)
	time.Sleep(5 * time.Millisecond) // widen the race window
	if h.err != nil {
		return domain.Snapshot{}, h.err
	}
	return domain.Snapshot{Session: domain.Session{ID: id, Status: domain.SessionActive}}, nil
}

func TestGetOrCreateHydratesOnce(t *testing.T) {
	h := &countingHydrator{}
	g := NewRegistry(h, nil)

	const n = 16
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := g.GetOrCreate(context.Background(), "s1")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	if got := h.calls.Load(); got != 1 {
		t.Fatalf("hydrated %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatal("concurrent GetOrCreate returned different room instances")
		}
	}
}

func TestGetOrCreateRetriesAfterFailure(t *testing.T) {
	h := &countingHydrator{err: errors.New("storage down")}
	g := NewRegistry(h, nil)

	if _, err := g.GetOrCreate(context.Background(), "s1"); err == nil {
		t.Fatal("expected hydration error")
	}

	h.err = nil
	room, err := g.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if room == nil {
		t.Fatal("expected a room on retry")
	}
}

func TestTryRemoveOnlyWhenEmpty(t *testing.T) {
	g := NewRegistry(&countingHydrator{}, nil)
	room, err := g.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	release := room.Subscribe(&fakeSub{})
	if g.TryRemove("s1") {
		t.Fatal("removed an occupied room")
	}
	release()
	if !g.TryRemove("s1") {
		t.Fatal("failed to remove an empty room")
	}
	if _, ok := g.Peek("s1"); ok {
		t.Fatal("room still visible after removal")
	}
}

func TestPeekDoesNotHydrate(t *testing.T) {
	h := &countingHydrator{}
	g := NewRegistry(h, nil)
	if _, ok := g.Peek("s1"); ok {
		t.Fatal("Peek invented a room")
	}
	if got := h.calls.Load(); got != 0 {
		t.Fatalf("Peek hydrated %d times, want 0", got)
	}
}

func TestListReportsLiveRooms(t *testing.T) {
	g := NewRegistry(&countingHydrator{}, nil)
	room, err := g.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	sub := &fakeSub{}
	release := room.Subscribe(sub)
	defer release()
	room.Join("u1", "Alice", sub)

	infos := g.List()
	if len(infos) != 1 {
		t.Fatalf("List = %d rooms, want 1", len(infos))
	}
	if infos[0].SessionID != "s1" || infos[0].Subscribers != 1 || infos[0].Online != 1 {
		t.Fatalf("info = %+v", infos[0])
	}
}
