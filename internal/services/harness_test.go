package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/lock"
	"github.com/akmatori/ticketbot/internal/notify"
	"github.com/akmatori/ticketbot/internal/services"
	"github.com/akmatori/ticketbot/internal/testhelpers"
)

// callLog records the order of side effects across collaborators.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// since returns the calls recorded after the first n.
func (l *callLog) since(n int) []string {
	return l.snapshot()[n:]
}

func (l *callLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// indexOf returns the position of the first occurrence of call, or -1.
func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

// recordingPublisher keeps published signals in order.
type recordingPublisher struct {
	mu      sync.Mutex
	signals []notify.Signal
	log     *callLog
}

func (p *recordingPublisher) Publish(sig notify.Signal) {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	p.log.add("publish:" + string(sig.Type))
}

func (p *recordingPublisher) ofType(t notify.SignalType) []notify.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Signal
	for _, s := range p.signals {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

type harness struct {
	ticketStore     *database.TicketStore
	escalationStore *database.EscalationStore
	queryStore      *database.QueryStore
	gateway         *testhelpers.MockGateway
	publisher       *recordingPublisher
	calls           *callLog
	sync            *services.FormSynchronizer
	tickets         *services.TicketService
	escalations     *services.EscalationService
}

type harnessConfig struct {
	policy          services.TicketPolicy
	wrapEscalations func(services.EscalationRepository) services.EscalationRepository
	wrapFormTickets func(services.TicketRepository) services.TicketRepository
}

type harnessOption func(*harnessConfig)

func withAssignmentDisabled() harnessOption {
	return func(c *harnessConfig) { c.policy.AssignmentEnabled = false }
}

// withEscalationRepository lets a test intercept escalation persistence.
func withEscalationRepository(wrap func(services.EscalationRepository) services.EscalationRepository) harnessOption {
	return func(c *harnessConfig) { c.wrapEscalations = wrap }
}

// withFormTicketRepository intercepts the ticket writes made by the form
// synchronizer only.
func withFormTicketRepository(wrap func(services.TicketRepository) services.TicketRepository) harnessOption {
	return func(c *harnessConfig) { c.wrapFormTickets = wrap }
}

// newHarness wires the services on an in-memory database. Form refreshes
// run synchronously so tests can assert on gateway calls directly.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db := testhelpers.SetupTestDB(t)
	reg := testhelpers.NewTestRegistry(t)
	logger := testhelpers.NewTestLogger()
	locker := lock.NewLocalLocker()

	cfg := harnessConfig{policy: services.TicketPolicy{OpenReaction: "ticket", AssignmentEnabled: true}}
	for _, opt := range opts {
		opt(&cfg)
	}

	calls := &callLog{}
	h := &harness{
		ticketStore:     database.NewTicketStore(db),
		escalationStore: database.NewEscalationStore(db),
		queryStore:      database.NewQueryStore(db),
		gateway:         testhelpers.NewMockGateway(),
		publisher:       &recordingPublisher{log: calls},
		calls:           calls,
	}
	var escalationRepo services.EscalationRepository = h.escalationStore
	if cfg.wrapEscalations != nil {
		escalationRepo = cfg.wrapEscalations(escalationRepo)
	}
	var formTickets services.TicketRepository = h.ticketStore
	if cfg.wrapFormTickets != nil {
		formTickets = cfg.wrapFormTickets(formTickets)
	}

	h.sync = services.NewFormSynchronizer(services.FormSynchronizerDeps{
		Tickets:           formTickets,
		Escalations:       escalationRepo,
		Queries:           h.queryStore,
		Gateway:           h.gateway,
		Locker:            locker,
		Registry:          reg,
		Logger:            logger,
		AssignmentEnabled: true,
	})
	reflector := services.ReflectFunc(func(ctx context.Context, id uint) {
		calls.add("reflect")
		_ = h.sync.Reflect(ctx, id)
	})

	h.escalations = services.NewEscalationService(services.EscalationServiceDeps{
		Tickets:     h.ticketStore,
		Escalations: escalationRepo,
		Locker:      locker,
		Reflector:   reflector,
		Publisher:   h.publisher,
		Registry:    reg,
		Logger:      logger,
	})

	h.tickets = services.NewTicketService(services.TicketServiceDeps{
		Tickets:     h.ticketStore,
		Queries:     h.queryStore,
		Escalations: h.escalations,
		Locker:      locker,
		Reflector:   reflector,
		Publisher:   h.publisher,
		Registry:    reg,
		Policy:      cfg.policy,
		Logger:      logger,
	})
	return h
}

func (h *harness) createTicket(t *testing.T, channel, ts string) *database.Ticket {
	t.Helper()
	ticket, _, err := h.tickets.CreateIfAbsent(context.Background(), database.NaturalKey{ChannelID: channel, MessageTS: ts}, services.TicketAttrs{RequesterID: "U1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Creation posts the form, which bumps the version
	return h.reload(t, ticket.ID)
}

func (h *harness) escalate(t *testing.T, ticketID uint, team string) *database.Escalation {
	t.Helper()
	e, err := h.escalations.Escalate(context.Background(), services.EscalationRequest{
		TicketID: ticketID,
		Team:     team,
		ActorID:  "U2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func (h *harness) reload(t *testing.T, id uint) *database.Ticket {
	t.Helper()
	ticket, err := h.ticketStore.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ticket
}

func statusPtr(s database.TicketStatus) *database.TicketStatus {
	return &s
}

func strPtr(s string) *string {
	return &s
}
