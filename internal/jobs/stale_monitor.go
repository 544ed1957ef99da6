package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/lock"
)

const staleSweepLockKey = "sweep:stale"

// StaleCandidates lists opened tickets that have not been updated since cutoff
type StaleCandidates interface {
	ListStaleCandidates(ctx context.Context, cutoff time.Time) ([]database.Ticket, error)
}

// StaleMarker moves a ticket to stale through the ticket engine
type StaleMarker interface {
	MarkStale(ctx context.Context, ticketID uint, cutoff time.Time) (bool, error)
}

// StaleMonitor moves tickets left opened for too long to stale
type StaleMonitor struct {
	candidates StaleCandidates
	marker     StaleMarker
	locker     lock.Locker
	staleAfter time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	cron *cron.Cron
}

// NewStaleMonitor creates a monitor that marks tickets stale after staleAfter
func NewStaleMonitor(candidates StaleCandidates, marker StaleMarker, locker lock.Locker, staleAfter time.Duration, logger *zap.Logger) *StaleMonitor {
	return &StaleMonitor{
		candidates: candidates,
		marker:     marker,
		locker:     locker,
		staleAfter: staleAfter,
		timeout:    5 * time.Minute,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckAndTransition marks every expired opened ticket stale and returns how
// many moved. A failure on one ticket does not stop the sweep.
func (m *StaleMonitor) CheckAndTransition(ctx context.Context) (int, error) {
	if m.staleAfter <= 0 {
		return 0, nil
	}

	unlock, err := m.locker.Lock(ctx, staleSweepLockKey)
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer unlock()

	cutoff := m.now().Add(-m.staleAfter)
	tickets, err := m.candidates.ListStaleCandidates(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, t := range tickets {
		if ctx.Err() != nil {
			return transitioned, ctx.Err()
		}
		changed, err := m.marker.MarkStale(ctx, t.ID, cutoff)
		if err != nil {
			m.logger.Warn("Failed to mark ticket stale", zap.Uint("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if changed {
			transitioned++
			m.logger.Debug("Ticket marked stale", zap.Uint("ticket_id", t.ID), zap.Time("updated_at", t.UpdatedAt))
		}
	}
	return transitioned, nil
}

// Schedule registers the sweep on a cron spec such as "@every 15m". It does
// nothing when the sweep is disabled.
func (m *StaleMonitor) Schedule(spec string) error {
	if m.staleAfter <= 0 {
		m.logger.Info("Stale sweep disabled")
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, m.sweep); err != nil {
		return fmt.Errorf("invalid stale sweep schedule %q: %w", spec, err)
	}
	m.cron = c
	return nil
}

// Start runs the scheduled sweep in the background
func (m *StaleMonitor) Start() {
	if m.cron != nil {
		m.cron.Start()
	}
}

// Stop stops scheduling and waits for a running sweep to finish
func (m *StaleMonitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
		m.logger.Info("Stale monitor stopped")
	}
}

func (m *StaleMonitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	transitioned, err := m.CheckAndTransition(ctx)
	if err != nil {
		m.logger.Error("Stale sweep failed", zap.Error(err))
		return
	}
	if transitioned > 0 {
		m.logger.Info("Stale sweep finished", zap.Int("transitioned", transitioned))
	}
}
