package models

import "time"

// Direction of an exchange record relative to the current user.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Status of a formal exchange row. Manual annotations are always delivered.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusClaimed   Status = "claimed"
)

// ManualKeyPrefix marks grouping keys synthesized from a free-text recipient
// name rather than resolved from a friend relationship id.
const ManualKeyPrefix = "manual-"

// ExchangeRecord is the normalized shape both provenances are reduced to:
// formal sender/receiver rows and manual sent_to annotations.
type ExchangeRecord struct {
	ID           string
	FriendKey    string // friend relationship id, or ManualKeyPrefix+name
	FriendName   string
	FriendAvatar string
	Date         time.Time

	PostcardID       string
	PostcardTitle    string
	PostcardImageURL string

	Direction Direction
	Status    Status
	Manual    bool
}

// ManualKey builds the grouping key for a manually-annotated recipient name.
func ManualKey(name string) string { return ManualKeyPrefix + name }

// PostcardSummary is the slice of a record shown inside a grouped view.
type PostcardSummary struct {
	ID       string
	Title    string
	ImageURL string
	Date     time.Time
}

// GroupedRecord aggregates every sent record addressed to one recipient key.
// It is a pure projection over the record set and holds no independent state.
type GroupedRecord struct {
	FriendKey    string
	FriendName   string
	FriendAvatar string
	IsFavorite   bool
	Postcards    []PostcardSummary
}
