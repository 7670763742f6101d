package friends

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/events"
	"github.com/luyichen/pikapost/internal/session"
	"github.com/luyichen/pikapost/internal/store"
	"github.com/luyichen/pikapost/internal/store/storetest"
)

func newTestRepo(t *testing.T) (Repository, *storetest.Fake, *events.Bus) {
	t.Helper()
	gw := storetest.New()
	gw.Session = &store.Session{UserID: "u-1"}
	sessions := session.NewManager(context.Background(), gw, nil)
	t.Cleanup(sessions.Close)

	bus := events.NewBus()
	r := New(gw, sessions, bus, nil)
	t.Cleanup(r.Close)
	return r, gw, bus
}

func friendRows() []store.Row {
	return []store.Row{
		{"id": "f-1", "friend_name": "Olimar", "friend_avatar": "", "is_favorite": false},
		{"id": "f-2", "friend_name": "露依", "friend_avatar": "https://cdn.example.com/x.png", "is_favorite": true},
	}
}

func TestFetch_MapsManualAndProfileRows(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return []store.Row{
				{"id": "f-1", "friend_name": "Olimar", "is_favorite": false},
				{"id": "f-2", "friend_name": "stale name", "is_favorite": true,
					"friend_profile": store.Row{"id": "p-9", "username": "louie", "avatar": "https://cdn.example.com/louie.png"}},
			}, nil
		}
		return nil, nil
	}

	require.NoError(t, r.Fetch(context.Background()))
	list := r.All()
	require.Len(t, list, 2)

	require.Equal(t, "Olimar", list[0].Name)
	require.Empty(t, list[0].ProfileID)
	require.Contains(t, list[0].AvatarURL, "ui-avatars.com")

	// The backing profile wins over the manual columns.
	require.Equal(t, "louie", list[1].Name)
	require.Equal(t, "p-9", list[1].ProfileID)
	require.Equal(t, "https://cdn.example.com/louie.png", list[1].AvatarURL)
}

func TestFetch_FallbackNames(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return []store.Row{
				{"id": "f-1"},
				{"id": "f-2", "friend_profile": store.Row{"id": "p-1", "username": ""}},
			}, nil
		}
		return nil, nil
	}

	require.NoError(t, r.Fetch(context.Background()))
	list := r.All()
	require.Equal(t, "未命名皮友", list[0].Name)
	require.Equal(t, "未命名使用者", list[1].Name)
}

func TestFetch_RecentSentEnrichment(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		switch collection {
		case store.CollectionFriends:
			return friendRows(), nil
		case store.CollectionExchangeRecords:
			// Only f-1 has history.
			for _, c := range q.Filter.All {
				if c.Column == "receiver_id" && c.Value == "f-1" {
					return []store.Row{
						{"id": "e-1", "postcard": store.Row{"image_url": "https://cdn.example.com/a.png"}},
						{"id": "e-2", "postcard": store.Row{"image_url": "https://cdn.example.com/b.png"}},
					}, nil
				}
			}
			return nil, nil
		default:
			return nil, nil
		}
	}

	require.NoError(t, r.Fetch(context.Background()))
	list := r.All()
	require.Equal(t, []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"}, list[0].RecentSent)
	require.Empty(t, list[1].RecentSent)
}

func TestFetch_RecentSentFailureIsNonFatal(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		switch collection {
		case store.CollectionFriends:
			return friendRows(), nil
		default:
			return nil, errors.New("boom")
		}
	}

	require.NoError(t, r.Fetch(context.Background()))
	require.Len(t, r.All(), 2)
	require.NoError(t, r.Err())
}

func TestFetch_ReadErrorKeepsPreviousCache(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		return nil, errors.New("network down")
	}
	err := r.Fetch(context.Background())
	require.ErrorIs(t, err, common.ErrRemoteRead)
	require.Len(t, r.All(), 2)
	require.ErrorIs(t, r.Err(), common.ErrRemoteRead)
}

func TestSignOutClearsCache(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))
	require.Len(t, r.All(), 2)

	gw.SetSession(nil)
	require.Empty(t, r.All())
}

func TestToggleFavorite_OptimisticRevert(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	gw.UpdateFn = func(ctx context.Context, collection string, f store.Filter, fields store.Fields) error {
		return errors.New("write refused")
	}
	err := r.ToggleFavorite(context.Background(), "f-1")
	require.ErrorIs(t, err, common.ErrRemoteWrite)

	// Compensated back to the original value.
	require.False(t, r.All()[0].IsFavorite)
}

func TestToggleFavorite_UnknownFriend(t *testing.T) {
	r, _, _ := newTestRepo(t)
	err := r.ToggleFavorite(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	r, _, _ := newTestRepo(t)
	require.ErrorIs(t, r.Create(context.Background(), "   "), common.ErrValidation)
}

func TestCreate_InsertsPlaceholderAvatar(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	require.NoError(t, r.Create(context.Background(), "Olimar"))

	calls := gw.CallsTo("insert", store.CollectionFriends)
	require.Len(t, calls, 1)
	require.Equal(t, "Olimar", calls[0].Fields["friend_name"])
	require.Contains(t, calls[0].Fields["friend_avatar"], "ui-avatars.com")
}

func TestRename_PublishesIdentityChange(t *testing.T) {
	r, gw, bus := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	var changed []string
	bus.Subscribe(func(e events.FriendIdentityChanged) {
		changed = append(changed, e.FriendID)
	})

	require.NoError(t, r.Rename(context.Background(), "f-1", "Olimar II"))
	require.Equal(t, []string{"f-1"}, changed)
}

func TestRename_FailureDoesNotPublish(t *testing.T) {
	r, gw, bus := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	published := false
	bus.Subscribe(func(events.FriendIdentityChanged) { published = true })

	gw.UpdateFn = func(ctx context.Context, collection string, f store.Filter, fields store.Fields) error {
		return errors.New("refused")
	}
	require.Error(t, r.Rename(context.Background(), "f-1", "x"))
	require.False(t, published)
}

func TestSetAvatar_UploadsUnderUserPath(t *testing.T) {
	r, gw, bus := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	published := false
	bus.Subscribe(func(events.FriendIdentityChanged) { published = true })

	require.NoError(t, r.SetAvatar(context.Background(), "f-1", "photo.png", []byte{1, 2}))

	uploads := gw.CallsTo("upload", store.BucketFriendAvatars)
	require.Len(t, uploads, 1)
	path := uploads[0].Fields["path"].(string)
	require.True(t, strings.HasPrefix(path, "u-1/f-1_"))
	require.True(t, strings.HasSuffix(path, ".png"))

	updates := gw.CallsTo("update", store.CollectionFriends)
	require.Len(t, updates, 1)
	require.Equal(t, gw.PublicURL(store.BucketFriendAvatars, path), updates[0].Fields["friend_avatar"])
	require.True(t, published)
}

func TestResetAvatar_ClearsStoredValue(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	require.NoError(t, r.ResetAvatar(context.Background(), "f-2"))

	updates := gw.CallsTo("update", store.CollectionFriends)
	require.Len(t, updates, 1)
	require.Nil(t, updates[0].Fields["friend_avatar"])
	require.Contains(t, r.All()[1].AvatarURL, "ui-avatars.com")
}

func TestHasName_CaseInsensitive(t *testing.T) {
	r, gw, _ := newTestRepo(t)
	gw.QueryFn = func(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
		if collection == store.CollectionFriends {
			return friendRows(), nil
		}
		return nil, nil
	}
	require.NoError(t, r.Fetch(context.Background()))

	ok, err := r.HasName(context.Background(), "olimar")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.HasName(context.Background(), " OLIMAR ")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.HasName(context.Background(), "louie")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNotAuthenticatedMutations(t *testing.T) {
	gw := storetest.New()
	sessions := session.NewManager(context.Background(), gw, nil)
	t.Cleanup(sessions.Close)
	r := New(gw, sessions, events.NewBus(), nil)
	t.Cleanup(r.Close)

	ctx := context.Background()
	require.ErrorIs(t, r.Create(ctx, "x"), common.ErrNotAuthenticated)
	require.ErrorIs(t, r.Delete(ctx, "f-1"), common.ErrNotAuthenticated)
	require.ErrorIs(t, r.Rename(ctx, "f-1", "x"), common.ErrNotAuthenticated)
	require.ErrorIs(t, r.SetAvatar(ctx, "f-1", "a.png", nil), common.ErrNotAuthenticated)
	require.ErrorIs(t, r.ResetAvatar(ctx, "f-1"), common.ErrNotAuthenticated)
	require.ErrorIs(t, r.ToggleFavorite(ctx, "f-1"), common.ErrNotAuthenticated)
}
