// Package postcards owns the canonical in-memory postcard list: the per-user
// collection relationships joined with their shared postcard entities,
// ordered by collected date descending.
package postcards

import (
	"context"
	"time"

	"github.com/luyichen/pikapost/internal/models"
)

// NameDirectory answers whether a recipient name matches a current friend.
// The friend repository implements it; recipient names that do not match are
// rejected on new writes (historical mismatches stay readable).
type NameDirectory interface {
	HasName(ctx context.Context, name string) (bool, error)
}

// Update carries a partial edit of a postcard. Entity-level fields write to
// the shared postcard row; CollectedDate writes to the caller's relationship.
type Update struct {
	Title         *string
	Location      *string
	Country       *string
	Description   *string
	CollectedDate *time.Time
}

// Repository describes the postcard collection operations consumed by the UI.
// Mutators return an explicit outcome and run their compensating action
// before returning an error.
type Repository interface {
	// All returns a snapshot of the cached collection.
	All() []models.Postcard

	// Err returns the error flag of the last read; a failed read keeps the
	// previous cache rather than clearing it.
	Err() error

	// Fetch loads the current user's collection. With no current user it
	// clears the cache and returns nil.
	Fetch(ctx context.Context) error

	ToggleFavorite(ctx context.Context, id string) error

	// Collect links an existing postcard entity to the current user, dated
	// today, then refetches.
	Collect(ctx context.Context, postcardID string) error

	// UploadImage stores the image under a per-user random path, preserving
	// the extension, and returns its durable public URL.
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)

	// Add creates the shared entity, then the collection relationship, in
	// that order. A failure after the first step leaves an orphaned entity;
	// the error reports it and nothing is rolled back.
	Add(ctx context.Context, draft models.PostcardDraft) error

	// UpdateSentTo replaces the recipient list; nil clears it. Every name
	// must match a current friend case-insensitively.
	UpdateSentTo(ctx context.Context, postcardID string, recipients []string) error

	Update(ctx context.Context, postcardID string, upd Update) error

	// Delete removes the shared entity after the server confirms; relationship
	// rows cascade server-side. No optimistic pre-removal.
	Delete(ctx context.Context, postcardID string) error

	// Close unsubscribes from session and friend-identity events.
	Close()
}
