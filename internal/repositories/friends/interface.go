// Package friends owns the friend list: CRUD, favorite toggling, avatar
// upload/reset, and the per-friend recency enrichment. It publishes
// FriendIdentityChanged after renames and avatar changes so views holding
// denormalized copies of a friend's identity can refetch.
package friends

import (
	"context"

	"github.com/luyichen/pikapost/internal/models"
)

// Repository describes the friend-list operations consumed by the UI layer.
//
// Mutators return an explicit error instead of panicking; optimistic
// mutations run their compensating action before returning.
type Repository interface {
	// All returns a snapshot of the cached friend list.
	All() []models.Friend

	// Err returns the error flag of the last read, if any. A failed read
	// keeps the previous cache.
	Err() error

	// Fetch loads the friend list for the current user and enriches each
	// friend with the images of the last few postcards sent to them.
	Fetch(ctx context.Context) error

	ToggleFavorite(ctx context.Context, id string) error
	Create(ctx context.Context, name string) error
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, newName string) error

	// SetAvatar uploads a custom avatar image; the extension is preserved
	// from the original filename.
	SetAvatar(ctx context.Context, id, filename string, data []byte) error

	// ResetAvatar clears the stored custom avatar; the generated placeholder
	// takes over.
	ResetAvatar(ctx context.Context, id string) error

	// HasName reports whether a name matches a current friend,
	// case-insensitively. Recipient validation depends on it.
	HasName(ctx context.Context, name string) (bool, error)

	// Close unsubscribes from session changes.
	Close()
}
