package submission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueDrainsAfterClose(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 buffered, got %d", q.Len())
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Publish(ctx, "d"); err == nil {
		t.Fatalf("publish after close should fail")
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	err := q.Consume(ctx, 2, func(_ context.Context, id string) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return errors.New("handler errors are not fatal")
	})
	if err != nil {
		t.Fatalf("consume of a drained queue should end cleanly: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected every buffered id, got %v", seen)
	}
}

func TestConsumeSettlesAndStopsOnReceiverError(t *testing.T) {
	fatal := errors.New("broker gone")
	var (
		mu      sync.Mutex
		calls   int
		settled []error
	)
	recv := func(context.Context) (delivery, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return delivery{}, false, nil
		case 2, 3:
			return delivery{id: "x", settle: func(_ context.Context, err error) {
				mu.Lock()
				settled = append(settled, err)
				mu.Unlock()
			}}, true, nil
		default:
			return delivery{}, false, fatal
		}
	}
	n := 0
	handler := func(context.Context, string) error {
		n++
		if n == 1 {
			return errors.New("retry me")
		}
		return nil
	}
	if err := consume(context.Background(), "test", 1, recv, handler); !errors.Is(err, fatal) {
		t.Fatalf("expected receiver error, got %v", err)
	}
	if len(settled) != 2 || settled[0] == nil || settled[1] != nil {
		t.Fatalf("unexpected settle results %v", settled)
	}
}

func TestConsumeReturnsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Consume(ctx, 3, func(context.Context, string) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
