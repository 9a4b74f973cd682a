package history

import (
	"context"
	"testing"
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

func TestMemoryStoreAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns sequential ids", func(t *testing.T) {
		s := NewMemoryStore(nil)
		defer s.Close()

		first, err := s.Append(ctx, types.EventInput{Type: types.EventTypeLog})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		second, err := s.Append(ctx, types.EventInput{Type: types.EventTypeLog})
		if err != nil {
			t.Fatalf("append: %v", err)
		}

		if first.ID != "1" || second.ID != "2" {
			t.Errorf("expected ids 1,2 got %s,%s", first.ID, second.ID)
		}
	})

	t.Run("ring buffer drops oldest", func(t *testing.T) {
		s := NewMemoryStore(&Config{EventMaxLen: 3})
		defer s.Close()

		for i := 0; i < 5; i++ {
			if _, err := s.Append(ctx, types.EventInput{Type: types.EventTypeLog}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		events, err := s.EventsSince(ctx, "")
		if err != nil {
			t.Fatalf("events since: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected 3 retained events, got %d", len(events))
		}
		if events[0].ID != "3" {
			t.Errorf("expected oldest retained id 3, got %s", events[0].ID)
		}
	})

	t.Run("append after close fails", func(t *testing.T) {
		s := NewMemoryStore(nil)
		s.Close()

		if _, err := s.Append(ctx, types.EventInput{Type: types.EventTypeLog}); err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestMemoryStoreEventsSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	defer s.Close()

	for i := 0; i < 4; i++ {
		if _, err := s.Append(ctx, types.EventInput{Type: types.EventTypeNodeUpdated}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.EventsSince(ctx, "2")
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after id 2, got %d", len(events))
	}
	if events[0].ID != "3" || events[1].ID != "4" {
		t.Errorf("expected ids 3,4 got %s,%s", events[0].ID, events[1].ID)
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	defer s.Close()

	ch, cleanup, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cleanup()

	want, err := s.Append(ctx, types.EventInput{
		Type:   types.EventTypeFileDelivered,
		NodeID: "sb-1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != want.ID || got.Type != types.EventTypeFileDelivered {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received event")
	}

	cleanup()
	if _, err := s.Append(ctx, types.EventInput{Type: types.EventTypeLog}); err != nil {
		t.Fatalf("append after cleanup: %v", err)
	}
}
