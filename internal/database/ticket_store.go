package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNoChange is returned by an update callback to abort without writing.
	ErrNoChange = errors.New("no change")
	// ErrConflict is returned when a compare-and-swap update keeps losing races.
	ErrConflict = errors.New("concurrent update conflict")
)

// maxUpdateAttempts bounds compare-and-swap retries in UpdateIfPresent.
const maxUpdateAttempts = 8

// TicketFilter selects tickets for List.
type TicketFilter struct {
	Status TicketStatus
	Team   string
	Limit  int
	Offset int
}

// TicketStore persists tickets. All writes are single-row atomic: creation
// relies on the natural key unique index, updates compare-and-swap on Version.
type TicketStore struct {
	db *gorm.DB
}

// NewTicketStore creates a ticket store on db
func NewTicketStore(db *gorm.DB) *TicketStore {
	return &TicketStore{db: db}
}

// CreateIfAbsent inserts t unless a ticket with the same natural key exists,
// and returns the stored ticket. created is true only for the call that
// inserted the row.
func (s *TicketStore) CreateIfAbsent(ctx context.Context, t *Ticket) (*Ticket, bool, error) {
	row := t.Clone()
	row.ID = 0
	row.Version = 1
	if row.Status == "" {
		row.Status = TicketStatusOpened
	}
	if len(row.StatusLog) == 0 {
		row.StatusLog = append(row.StatusLog, StatusLogEntry{Status: row.Status, At: time.Now()})
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "message_ts"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return nil, false, fmt.Errorf("insert ticket %s/%s: %w", t.ChannelID, t.MessageTS, result.Error)
	}

	stored, err := s.FindByNaturalKey(ctx, t.Key())
	if err != nil {
		return nil, false, err
	}
	return stored, result.RowsAffected == 1, nil
}

// UpdateIfPresent loads the ticket, applies fn to a private copy and writes
// the copy back if the row's version is unchanged, retrying on conflict.
// If fn returns ErrNoChange nothing is written and the current ticket is
// returned together with ErrNoChange.
func (s *TicketStore) UpdateIfPresent(ctx context.Context, id uint, fn func(*Ticket) error) (*Ticket, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, ErrNoChange
			}
			return nil, err
		}
		next.ID = current.ID
		next.ChannelID = current.ChannelID
		next.MessageTS = current.MessageTS
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now()

		result := s.db.WithContext(ctx).
			Model(&Ticket{}).
			Where("id = ? AND version = ?", id, current.Version).
			Select("*").
			Omit("id", "channel_id", "message_ts", "created_at").
			Updates(next)
		if result.Error != nil {
			return nil, fmt.Errorf("update ticket %d: %w", id, result.Error)
		}
		if result.RowsAffected == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("update ticket %d: %w", id, ErrConflict)
}

// AppendStatusLog moves the ticket to status, appending to its status log.
// A ticket already in status is returned with ErrNoChange.
func (s *TicketStore) AppendStatusLog(ctx context.Context, id uint, status TicketStatus) (*Ticket, error) {
	return s.UpdateIfPresent(ctx, id, func(t *Ticket) error {
		if !t.SetStatus(status, time.Now()) {
			return ErrNoChange
		}
		return nil
	})
}

// FindByID returns the ticket with the given id
func (s *TicketStore) FindByID(ctx context.Context, id uint) (*Ticket, error) {
	var t Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find ticket %d: %w", id, err)
	}
	return &t, nil
}

// FindByNaturalKey returns the ticket raised by the given root message
func (s *TicketStore) FindByNaturalKey(ctx context.Context, key NaturalKey) (*Ticket, error) {
	var t Ticket
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND message_ts = ?", key.ChannelID, key.MessageTS).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find ticket %s/%s: %w", key.ChannelID, key.MessageTS, err)
	}
	return &t, nil
}

// List returns a page of tickets, newest first, and the total match count.
func (s *TicketStore) List(ctx context.Context, filter TicketFilter) ([]Ticket, int64, error) {
	query := s.db.WithContext(ctx).Model(&Ticket{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Team != "" {
		query = query.Where("team = ?", filter.Team)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	var tickets []Ticket
	if err := query.Order("created_at DESC, id DESC").Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, total, nil
}

// ListStaleCandidates returns opened tickets not updated since cutoff.
func (s *TicketStore) ListStaleCandidates(ctx context.Context, cutoff time.Time) ([]Ticket, error) {
	var tickets []Ticket
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", TicketStatusOpened, cutoff).
		Order("updated_at ASC").
		Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("list stale candidates: %w", err)
	}
	return tickets, nil
}
