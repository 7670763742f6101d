package friends

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/events"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/models"
	"github.com/luyichen/pikapost/internal/mutate"
	"github.com/luyichen/pikapost/internal/names"
	"github.com/luyichen/pikapost/internal/session"
	"github.com/luyichen/pikapost/internal/store"
)

// recentSentLimit caps the per-friend recency query. The fan-out is one query
// per friend on purpose: a join would drag in the full exchange history of
// friends with large counts just to throw it away.
const recentSentLimit = 3

const (
	fallbackProfileName = "未命名使用者"
	fallbackFriendName  = "未命名皮友"
)

type repository struct {
	gw       store.Gateway
	sessions *session.Manager
	bus      *events.Bus
	log      logging.Logger

	mu      sync.Mutex
	list    []models.Friend
	readErr error
	epoch   int

	unsub func()
}

// New builds the friend repository and subscribes it to identity changes:
// the cache clears on sign-out and refetches on sign-in.
func New(gw store.Gateway, sessions *session.Manager, bus *events.Bus, log logging.Logger) Repository {
	if log == nil {
		log = logging.NewNop()
	}
	r := &repository{gw: gw, sessions: sessions, bus: bus, log: log.With("repo", "friends")}
	r.unsub = sessions.OnChange(func(userID string, signedIn bool) {
		if !signedIn {
			r.clear()
			return
		}
		if err := r.Fetch(context.Background()); err != nil {
			r.log.Warn(context.Background(), "refetch after sign-in failed", "err", err)
		}
	})
	return r
}

func (r *repository) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *repository) All() []models.Friend {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Friend, len(r.list))
	copy(out, r.list)
	return out
}

func (r *repository) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

func (r *repository) clear() {
	r.mu.Lock()
	r.epoch++
	r.list = nil
	r.readErr = nil
	r.mu.Unlock()
}

// setList installs a fetched list unless the identity epoch moved on while
// the fetch was in flight; stale results are dropped, not merged.
func (r *repository) setList(epoch int, list []models.Friend) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	r.list = list
	r.readErr = nil
	return true
}

func (r *repository) setReadErr(err error) {
	r.mu.Lock()
	r.readErr = err
	r.mu.Unlock()
}

func (r *repository) currentEpoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func mapRowToFriend(row store.Row) (models.Friend, error) {
	id, err := row.ReqStr("id")
	if err != nil {
		return models.Friend{}, err
	}

	f := models.Friend{ID: id, IsFavorite: row.Bool("is_favorite")}

	// A backing profile wins over the manually-entered columns.
	if profile := row.Sub("friend_profile"); profile != nil {
		f.ProfileID = profile.Str("id")
		f.Name = profile.Str("username")
		if f.Name == "" {
			f.Name = fallbackProfileName
		}
		f.AvatarURL = profile.Str("avatar")
		if f.AvatarURL == "" {
			f.AvatarURL = names.PlaceholderAvatarURL(f.Name)
		}
		return f, nil
	}

	f.Name = row.Str("friend_name")
	if f.Name == "" {
		f.Name = fallbackFriendName
	}
	f.AvatarURL = row.Str("friend_avatar")
	if f.AvatarURL == "" {
		f.AvatarURL = names.PlaceholderAvatarURL(f.Name)
	}
	return f, nil
}

func (r *repository) Fetch(ctx context.Context) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		r.clear()
		return nil
	}
	epoch := r.currentEpoch()

	rows, err := r.gw.Query(ctx, store.CollectionFriends, store.Query{
		Columns: []string{"id", "is_favorite", "friend_name", "friend_avatar"},
		Filter:  store.Where(store.Eq("user_id", uid)),
		Joins: []store.Join{{
			Table:         store.CollectionProfiles,
			As:            "friend_profile",
			LocalColumn:   "friend_id",
			ForeignColumn: "id",
			Columns:       []string{"id", "username", "avatar"},
		}},
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: friends: %v", common.ErrRemoteRead, err)
		r.setReadErr(wrapped)
		return wrapped
	}

	list := make([]models.Friend, 0, len(rows))
	for _, row := range rows {
		f, err := mapRowToFriend(row)
		if err != nil {
			wrapped := fmt.Errorf("friends: %w", err)
			r.setReadErr(wrapped)
			return wrapped
		}
		list = append(list, f)
	}

	// Recency enrichment fans out one query per friend. The completions may
	// land in any order; each goroutine writes only its own slot and the
	// shared cache is touched once, via setList, after all are done.
	var wg sync.WaitGroup
	for i := range list {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recent, err := r.fetchRecentSent(ctx, uid, list[i].ID)
			if err != nil {
				r.log.Warn(ctx, "recent-sent query failed", "friend", list[i].ID, "err", err)
				return
			}
			list[i].RecentSent = recent
		}(i)
	}
	wg.Wait()

	if !r.setList(epoch, list) {
		r.log.Debug(ctx, "discarding stale friend fetch")
	}
	return nil
}

func (r *repository) fetchRecentSent(ctx context.Context, uid, friendID string) ([]string, error) {
	rows, err := r.gw.Query(ctx, store.CollectionExchangeRecords, store.Query{
		Columns: []string{"id"},
		Filter:  store.Where(store.Eq("sender_id", uid), store.Eq("receiver_id", friendID)),
		Joins: []store.Join{{
			Table:         store.CollectionPostcards,
			As:            "postcard",
			LocalColumn:   "postcard_id",
			ForeignColumn: "id",
			Columns:       []string{"image_url"},
		}},
		Order: &store.Order{Column: "sent_date", Descending: true},
		Limit: recentSentLimit,
	})
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, row := range rows {
		if p := row.Sub("postcard"); p != nil {
			if u := p.Str("image_url"); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls, nil
}

func (r *repository) ToggleFavorite(ctx context.Context, id string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	r.mu.Lock()
	var prev bool
	found := false
	for i := range r.list {
		if r.list[i].ID == id {
			prev = r.list[i].IsFavorite
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: friend %s", common.ErrNotFound, id)
	}

	return mutate.Optimistic(ctx,
		func() { r.setFavorite(id, !prev) },
		func(ctx context.Context) error {
			err := r.gw.Update(ctx, store.CollectionFriends,
				store.Where(store.Eq("user_id", uid), store.Eq("id", id)),
				store.Fields{"is_favorite": !prev})
			if err != nil {
				return fmt.Errorf("%w: toggle favorite: %v", common.ErrRemoteWrite, err)
			}
			return nil
		},
		func(ctx context.Context) { r.setFavorite(id, prev) },
	)
}

func (r *repository) setFavorite(id string, fav bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.list {
		if r.list[i].ID == id {
			r.list[i].IsFavorite = fav
		}
	}
}

func (r *repository) Create(ctx context.Context, name string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: friend name is required", common.ErrValidation)
	}

	_, err := r.gw.Insert(ctx, store.CollectionFriends, store.Fields{
		"user_id":       uid,
		"friend_name":   name,
		"friend_avatar": names.PlaceholderAvatarURL(name),
	})
	if err != nil {
		return fmt.Errorf("%w: create friend: %v", common.ErrRemoteWrite, err)
	}
	return r.Fetch(ctx)
}

// Delete removes the relationship row only; shared postcard entities and
// exchange history are never touched.
func (r *repository) Delete(ctx context.Context, id string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}
	err := r.gw.Delete(ctx, store.CollectionFriends,
		store.Where(store.Eq("user_id", uid), store.Eq("id", id)))
	if err != nil {
		return fmt.Errorf("%w: delete friend: %v", common.ErrRemoteWrite, err)
	}
	return r.Fetch(ctx)
}

func (r *repository) Rename(ctx context.Context, id, newName string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("%w: friend name is required", common.ErrValidation)
	}

	err := mutate.Optimistic(ctx,
		func() { r.setName(id, newName) },
		func(ctx context.Context) error {
			err := r.gw.Update(ctx, store.CollectionFriends,
				store.Where(store.Eq("user_id", uid), store.Eq("id", id)),
				store.Fields{"friend_name": newName})
			if err != nil {
				return fmt.Errorf("%w: rename friend: %v", common.ErrRemoteWrite, err)
			}
			return nil
		},
		func(ctx context.Context) { r.refetchQuietly(ctx) },
	)
	if err != nil {
		return err
	}

	// Recipient names are denormalized into other read-projections; announce
	// the change so those views refetch.
	r.bus.Publish(events.FriendIdentityChanged{FriendID: id})
	return nil
}

func (r *repository) setName(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.list {
		if r.list[i].ID == id {
			r.list[i].Name = name
		}
	}
}

func (r *repository) setAvatarURL(id, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.list {
		if r.list[i].ID == id {
			r.list[i].AvatarURL = url
		}
	}
}

func (r *repository) SetAvatar(ctx context.Context, id, filename string, data []byte) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	path := fmt.Sprintf("%s/%s_%d%s", uid, id, time.Now().UnixMilli(), filepath.Ext(filename))
	if err := r.gw.UploadBlob(ctx, store.BucketFriendAvatars, path, data); err != nil {
		return fmt.Errorf("%w: avatar upload: %v", common.ErrRemoteWrite, err)
	}
	avatarURL := r.gw.PublicURL(store.BucketFriendAvatars, path)

	err := mutate.Optimistic(ctx,
		func() { r.setAvatarURL(id, avatarURL) },
		func(ctx context.Context) error {
			err := r.gw.Update(ctx, store.CollectionFriends,
				store.Where(store.Eq("user_id", uid), store.Eq("id", id)),
				store.Fields{"friend_avatar": avatarURL})
			if err != nil {
				return fmt.Errorf("%w: set avatar: %v", common.ErrRemoteWrite, err)
			}
			return nil
		},
		func(ctx context.Context) { r.refetchQuietly(ctx) },
	)
	if err != nil {
		return err
	}

	r.bus.Publish(events.FriendIdentityChanged{FriendID: id})
	return nil
}

func (r *repository) ResetAvatar(ctx context.Context, id string) error {
	uid, ok := r.sessions.UserID()
	if !ok {
		return common.ErrNotAuthenticated
	}

	r.mu.Lock()
	var name string
	found := false
	for i := range r.list {
		if r.list[i].ID == id {
			name = r.list[i].Name
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: friend %s", common.ErrNotFound, id)
	}

	return mutate.Optimistic(ctx,
		func() { r.setAvatarURL(id, names.PlaceholderAvatarURL(name)) },
		func(ctx context.Context) error {
			err := r.gw.Update(ctx, store.CollectionFriends,
				store.Where(store.Eq("user_id", uid), store.Eq("id", id)),
				store.Fields{"friend_avatar": nil})
			if err != nil {
				return fmt.Errorf("%w: reset avatar: %v", common.ErrRemoteWrite, err)
			}
			return nil
		},
		func(ctx context.Context) { r.refetchQuietly(ctx) },
	)
}

func (r *repository) HasName(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.list {
		if strings.EqualFold(r.list[i].Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (r *repository) refetchQuietly(ctx context.Context) {
	if err := r.Fetch(ctx); err != nil {
		r.log.Warn(ctx, "compensating refetch failed", "err", err)
	}
}
