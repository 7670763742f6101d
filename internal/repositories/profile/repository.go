// Package profile manages the current user's single profile row. A session
// whose profile row is missing is invalid for the rest of the system, so the
// repository forces a sign-out when it detects one.
package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/models"
	"github.com/luyichen/pikapost/internal/session"
	"github.com/luyichen/pikapost/internal/store"
)

// Update carries a partial profile edit.
type Update struct {
	Username  *string
	AvatarURL *string
}

type Repository struct {
	gw       store.Gateway
	sessions *session.Manager
	log      logging.Logger

	mu      sync.Mutex
	profile *models.Profile
	readErr error

	unsub func()
}

func New(gw store.Gateway, sessions *session.Manager, log logging.Logger) *Repository {
	if log == nil {
		log = logging.NewNop()
	}
	r := &Repository{gw: gw, sessions: sessions, log: log.With("repo", "profile")}
	r.unsub = sessions.OnChange(func(userID string, signedIn bool) {
		if !signedIn {
			r.mu.Lock()
			r.profile = nil
			r.readErr = nil
			r.mu.Unlock()
		}
	})
	return r
}

func (r *Repository) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// Current returns the cached profile, or nil.
func (r *Repository) Current() *models.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return nil
	}
	p := *r.profile
	return &p
}

func (r *Repository) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

// Fetch loads the profile row for the current user. An authenticated identity
// with no profile row is an integrity violation: the session is force-signed
// out before the error is returned.
func (r *Repository) Fetch(ctx context.Context) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		r.mu.Lock()
		r.profile = nil
		r.readErr = nil
		r.mu.Unlock()
		return nil
	}

	rows, err := r.gw.Query(ctx, store.CollectionProfiles, store.Query{
		Columns: []string{"id", "username", "avatar"},
		Filter:  store.Where(store.Eq("id", uid)),
		Limit:   1,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: profile: %v", common.ErrRemoteRead, err)
		r.mu.Lock()
		r.readErr = wrapped
		r.mu.Unlock()
		return wrapped
	}

	if len(rows) == 0 {
		r.log.Warn(ctx, "session has no backing profile row, forcing sign-out", "user", uid)
		if err := r.sessions.SignOut(ctx); err != nil {
			r.log.Error(ctx, "forced sign-out failed", "err", err)
		}
		return fmt.Errorf("%w: no profile for user %s", common.ErrIntegrityViolation, uid)
	}

	row := rows[0]
	id, err := row.ReqStr("id")
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	p := &models.Profile{
		ID:        id,
		Username:  row.Str("username"),
		AvatarURL: row.Str("avatar"),
	}

	r.mu.Lock()
	r.profile = p
	r.readErr = nil
	r.mu.Unlock()
	return nil
}

func (r *Repository) Update(ctx context.Context, upd Update) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	fields := store.Fields{}
	if upd.Username != nil {
		fields["username"] = *upd.Username
	}
	if upd.AvatarURL != nil {
		fields["avatar"] = *upd.AvatarURL
	}
	if len(fields) == 0 {
		return nil
	}

	err := r.gw.Update(ctx, store.CollectionProfiles, store.Where(store.Eq("id", uid)), fields)
	if err != nil {
		return fmt.Errorf("%w: update profile: %v", common.ErrRemoteWrite, err)
	}
	return r.Fetch(ctx)
}

// PostcardCount reports how many postcards the current user has collected.
func (r *Repository) PostcardCount(ctx context.Context) (int, error) {
	uid, ok := r.sessions.UserID()
	if !ok {
		return 0, common.ErrNotAuthenticated
	}
	rows, err := r.gw.Query(ctx, store.CollectionUserPostcards, store.Query{
		Columns: []string{"id"},
		Filter:  store.Where(store.Eq("user_id", uid)),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: postcard count: %v", common.ErrRemoteRead, err)
	}
	return len(rows), nil
}
