package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ticket engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EventsNormalized      *prometheus.CounterVec
	TicketsCreated        prometheus.Counter
	StatusTransitions     *prometheus.CounterVec
	ConfirmationsRequired prometheus.Counter
	Escalations           *prometheus.CounterVec
	GatewayFailures       *prometheus.CounterVec
	ReflectQueueDropped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbot_events_normalized_total",
			Help: "Inbound chat events by normalized kind",
		}, []string{"kind"}),
		TicketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketbot_tickets_created_total",
			Help: "Tickets created from an opening reaction",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbot_status_transitions_total",
			Help: "Committed ticket status changes by new status",
		}, []string{"status"}),
		ConfirmationsRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketbot_confirmations_required_total",
			Help: "Close attempts held back because escalations were open",
		}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbot_escalations_total",
			Help: "Escalation lifecycle events",
		}, []string{"event"}),
		GatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbot_gateway_failures_total",
			Help: "Failed messaging gateway calls by operation",
		}, []string{"op"}),
		ReflectQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketbot_reflect_queue_dropped_total",
			Help: "Form reflections dropped because the worker queue was full",
		}),
	}

	if err := register(reg, &m.EventsNormalized); err != nil {
		return nil, err
	}
	if err := register(reg, &m.StatusTransitions); err != nil {
		return nil, err
	}
	if err := register(reg, &m.Escalations); err != nil {
		return nil, err
	}
	if err := register(reg, &m.GatewayFailures); err != nil {
		return nil, err
	}
	if err := register(reg, &m.TicketsCreated); err != nil {
		return nil, err
	}
	if err := register(reg, &m.ConfirmationsRequired); err != nil {
		return nil, err
	}
	if err := register(reg, &m.ReflectQueueDropped); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers *c, swapping in the existing collector on a duplicate.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				*c = existing
				return nil
			}
		}
		return err
	}
	return nil
}

func (m *Metrics) EventNormalized(kind string) {
	if m == nil {
		return
	}
	m.EventsNormalized.WithLabelValues(kind).Inc()
}

func (m *Metrics) TicketCreated() {
	if m == nil {
		return
	}
	m.TicketsCreated.Inc()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ConfirmationRequired() {
	if m == nil {
		return
	}
	m.ConfirmationsRequired.Inc()
}

// Escalation counts escalation events ("opened", "resolved").
func (m *Metrics) Escalation(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Escalations.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) GatewayFailure(op string) {
	if m == nil {
		return
	}
	m.GatewayFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ReflectDropped() {
	if m == nil {
		return
	}
	m.ReflectQueueDropped.Inc()
}
