// Package notify fans ticket signals out to independent listeners.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/database"
)

// SignalType enumerates published signals.
type SignalType string

const (
	TicketStatusChanged SignalType = "ticket_status_changed"
	QueryWithdrawn      SignalType = "query_withdrawn"
	EscalationOpened    SignalType = "escalation_opened"
	EscalationResolved  SignalType = "escalation_resolved"
)

// Signal is a fire-and-forget notification about a committed change.
type Signal struct {
	Type         SignalType
	TicketID     uint
	Status       database.TicketStatus
	EscalationID uint
	Key          database.NaturalKey
	ActorID      string
	At           time.Time
}

// Listener handles a published signal.
type Listener func(context.Context, Signal) error

// Dispatcher delivers each signal to each subscribed listener on its own
// goroutine. Publish never blocks on listeners; listener errors and panics
// are logged.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[SignalType][]Listener
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Each delivery gets its own context
// bounded by timeout.
func NewDispatcher(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[SignalType][]Listener),
		timeout:   timeout,
		logger:    logger,
	}
}

// Subscribe registers a listener for the given signal type.
func (d *Dispatcher) Subscribe(signalType SignalType, listener Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[signalType] = append(d.listeners[signalType], listener)
}

// Publish hands sig to every listener for its type and returns immediately.
func (d *Dispatcher) Publish(sig Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}

	d.mu.RLock()
	listeners := append([]Listener{}, d.listeners[sig.Type]...)
	d.mu.RUnlock()

	for _, listener := range listeners {
		d.wg.Add(1)
		go d.deliver(listener, sig)
	}
}

func (d *Dispatcher) deliver(listener Listener, sig Signal) {
	defer d.wg.Done()

	fields := []zap.Field{
		zap.String("signal", string(sig.Type)),
		zap.Uint("ticket_id", sig.TicketID),
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("signal listener panicked", append(fields, zap.String("panic", fmt.Sprint(r)))...)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := listener(ctx, sig); err != nil {
		d.logger.Warn("signal listener failed", append(fields, zap.Error(err))...)
	}
}

// Wait blocks until all in-flight deliveries have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
