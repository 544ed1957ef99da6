package database

import "time"

// QueryStatus represents the state of a root message in the source channel
type QueryStatus string

const (
	QueryStatusPosted    QueryStatus = "posted"
	QueryStatusWithdrawn QueryStatus = "withdrawn"
)

// Query records a root message posted in the source channel, whether or not
// it ever became a ticket.
type Query struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	ChannelID   string      `gorm:"type:varchar(32);not null;uniqueIndex:idx_queries_natural_key,priority:1" json:"channel_id"`
	MessageTS   string      `gorm:"type:varchar(32);not null;uniqueIndex:idx_queries_natural_key,priority:2" json:"message_ts"`
	AuthorID    string      `gorm:"type:varchar(32)" json:"author_id"`
	Text        string      `gorm:"type:text" json:"text"`
	Status      QueryStatus `gorm:"type:varchar(16);not null;default:'posted'" json:"status"`
	WithdrawnAt *time.Time  `json:"withdrawn_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (Query) TableName() string {
	return "queries"
}

// Key returns the query's natural key.
func (q *Query) Key() NaturalKey {
	return NaturalKey{ChannelID: q.ChannelID, MessageTS: q.MessageTS}
}
