package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/database"
)

func TestDispatcher_DeliversToSubscribers(t *testing.T) {
	d := NewDispatcher(time.Second, zap.NewNop())

	var mu sync.Mutex
	var got []Signal
	record := func(_ context.Context, sig Signal) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, sig)
		return nil
	}
	d.Subscribe(TicketStatusChanged, record)
	d.Subscribe(TicketStatusChanged, record)
	d.Subscribe(EscalationOpened, func(context.Context, Signal) error {
		t.Error("unexpected delivery to escalation listener")
		return nil
	})

	d.Publish(Signal{Type: TicketStatusChanged, TicketID: 7, Status: database.TicketStatusClosed})
	d.Wait()

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].TicketID != 7 || got[0].Status != database.TicketStatusClosed {
		t.Errorf("unexpected signal %+v", got[0])
	}
	if got[0].At.IsZero() {
		t.Error("expected publish time to be stamped")
	}
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	d := NewDispatcher(time.Second, zap.NewNop())

	delivered := make(chan struct{}, 1)
	d.Subscribe(TicketStatusChanged, func(context.Context, Signal) error {
		panic("listener bug")
	})
	d.Subscribe(TicketStatusChanged, func(context.Context, Signal) error {
		return errors.New("slack down")
	})
	d.Subscribe(TicketStatusChanged, func(context.Context, Signal) error {
		delivered <- struct{}{}
		return nil
	})

	d.Publish(Signal{Type: TicketStatusChanged, TicketID: 1})
	d.Wait()

	select {
	case <-delivered:
	default:
		t.Error("expected healthy listener to receive the signal")
	}
}

func TestDispatcher_PublishDoesNotBlock(t *testing.T) {
	d := NewDispatcher(time.Second, zap.NewNop())

	release := make(chan struct{})
	d.Subscribe(QueryWithdrawn, func(ctx context.Context, _ Signal) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		d.Publish(Signal{Type: QueryWithdrawn})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("publish blocked on a slow listener")
	}
	close(release)
	d.Wait()
}
