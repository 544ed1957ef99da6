package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryStore persists root messages seen in the source channel.
type QueryStore struct {
	db *gorm.DB
}

// NewQueryStore creates a query store on db
func NewQueryStore(db *gorm.DB) *QueryStore {
	return &QueryStore{db: db}
}

// CreateIfAbsent records q unless its message was already recorded.
func (s *QueryStore) CreateIfAbsent(ctx context.Context, q *Query) (bool, error) {
	if q.Status == "" {
		q.Status = QueryStatusPosted
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "message_ts"}},
			DoNothing: true,
		}).
		Create(q)
	if result.Error != nil {
		return false, fmt.Errorf("insert query %s/%s: %w", q.ChannelID, q.MessageTS, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FindByNaturalKey returns the query recorded for the given root message
func (s *QueryStore) FindByNaturalKey(ctx context.Context, key NaturalKey) (*Query, error) {
	var q Query
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND message_ts = ?", key.ChannelID, key.MessageTS).
		First(&q).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find query %s/%s: %w", key.ChannelID, key.MessageTS, err)
	}
	return &q, nil
}

// MarkWithdrawn flags the query as withdrawn, recording a placeholder row if
// the original post was never seen. It returns false when the query was
// already withdrawn.
func (s *QueryStore) MarkWithdrawn(ctx context.Context, key NaturalKey, at time.Time) (bool, error) {
	if _, err := s.CreateIfAbsent(ctx, &Query{ChannelID: key.ChannelID, MessageTS: key.MessageTS}); err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).
		Model(&Query{}).
		Where("channel_id = ? AND message_ts = ? AND status = ?", key.ChannelID, key.MessageTS, QueryStatusPosted).
		Updates(map[string]interface{}{
			"status":       QueryStatusWithdrawn,
			"withdrawn_at": at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("withdraw query %s/%s: %w", key.ChannelID, key.MessageTS, result.Error)
	}
	return result.RowsAffected == 1, nil
}
