package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EscalationStore persists escalations.
type EscalationStore struct {
	db *gorm.DB
}

// NewEscalationStore creates an escalation store on db
func NewEscalationStore(db *gorm.DB) *EscalationStore {
	return &EscalationStore{db: db}
}

// Create inserts a new opened escalation.
func (s *EscalationStore) Create(ctx context.Context, e *Escalation) error {
	if e.Status == "" {
		e.Status = EscalationStatusOpened
	}
	if e.OpenedAt.IsZero() {
		e.OpenedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create escalation for ticket %d: %w", e.TicketID, err)
	}
	return nil
}

// ResolveAllFor resolves every opened escalation of the ticket in a single
// statement and returns the IDs it moved, so escalations resolved
// concurrently by someone else are not reported twice.
func (s *EscalationStore) ResolveAllFor(ctx context.Context, ticketID uint, at time.Time) ([]uint, error) {
	var resolved []Escalation
	result := s.db.WithContext(ctx).
		Model(&resolved).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("ticket_id = ? AND status = ?", ticketID, EscalationStatusOpened).
		Updates(map[string]interface{}{
			"status":      EscalationStatusResolved,
			"resolved_at": at,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("resolve escalations for ticket %d: %w", ticketID, result.Error)
	}
	ids := make([]uint, 0, len(resolved))
	for _, e := range resolved {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// Resolve moves one escalation from opened to resolved. Resolving is
// monotonic: an already resolved escalation is returned with changed=false.
func (s *EscalationStore) Resolve(ctx context.Context, id uint, at time.Time) (*Escalation, bool, error) {
	result := s.db.WithContext(ctx).
		Model(&Escalation{}).
		Where("id = ? AND status = ?", id, EscalationStatusOpened).
		Updates(map[string]interface{}{
			"status":      EscalationStatusResolved,
			"resolved_at": at,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("resolve escalation %d: %w", id, result.Error)
	}

	e, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return e, result.RowsAffected == 1, nil
}

// CountOpenFor counts the ticket's opened escalations
func (s *EscalationStore) CountOpenFor(ctx context.Context, ticketID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Escalation{}).
		Where("ticket_id = ? AND status = ?", ticketID, EscalationStatusOpened).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count open escalations for ticket %d: %w", ticketID, err)
	}
	return count, nil
}

// ListFor returns the ticket's escalations in the order they were opened
func (s *EscalationStore) ListFor(ctx context.Context, ticketID uint) ([]Escalation, error) {
	var escalations []Escalation
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("opened_at ASC, id ASC").
		Find(&escalations).Error
	if err != nil {
		return nil, fmt.Errorf("list escalations for ticket %d: %w", ticketID, err)
	}
	return escalations, nil
}

// FindByID returns the escalation with the given id
func (s *EscalationStore) FindByID(ctx context.Context, id uint) (*Escalation, error) {
	var e Escalation
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find escalation %d: %w", id, err)
	}
	return &e, nil
}
