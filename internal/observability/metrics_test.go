package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("expected duplicate registration to be tolerated, got %v", err)
	}

	first.StatusChanged("closed")
	second.StatusChanged("closed")

	if got := testutil.ToFloat64(first.StatusTransitions.WithLabelValues("closed")); got != 2 {
		t.Errorf("expected both instances to share the collector, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.EventNormalized("query_posted")
	m.TicketCreated()
	m.StatusChanged("opened")
	m.ConfirmationRequired()
	m.Escalation("opened", 1)
	m.GatewayFailure("post_form")
	m.ReflectDropped()
}

func TestMetrics_Escalation(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Escalation("resolved", 3)
	m.Escalation("resolved", 0)

	if got := testutil.ToFloat64(m.Escalations.WithLabelValues("resolved")); got != 3 {
		t.Errorf("expected 3 resolved, got %v", got)
	}
}

func TestNewLogger_UnknownLevelFallsBack(t *testing.T) {
	logger, err := NewLogger("chatty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(0) {
		t.Error("expected info level to be enabled")
	}
	if logger.Core().Enabled(-1) {
		t.Error("expected debug level to be disabled")
	}
}
