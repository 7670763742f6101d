package sqlgateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/store"
)

func setupGateway(t *testing.T) *Gateway {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(context.Background(), DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, DialectSQLite, NewLocalBlobStore(t.TempDir(), "http://blobs.local"), nil)
}

func register(t *testing.T, g *Gateway, identifier string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, g.SignUp(ctx, identifier, "secret-123"))
	require.NoError(t, g.SignIn(ctx, identifier, "secret-123"))

	s, err := g.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.UserID
}

func TestSignUpAndSignIn(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, g.SignUp(ctx, "olimar@pikapost.local", "secret-123"))

	// Duplicate registration is classified.
	require.ErrorIs(t, g.SignUp(ctx, "olimar@pikapost.local", "other"), common.ErrAccountExists)

	// Wrong password and unknown identifier look identical to the caller.
	require.ErrorIs(t, g.SignIn(ctx, "olimar@pikapost.local", "wrong"), common.ErrInvalidCredentials)
	require.ErrorIs(t, g.SignIn(ctx, "nobody@pikapost.local", "x"), common.ErrInvalidCredentials)

	require.NoError(t, g.SignIn(ctx, "olimar@pikapost.local", "secret-123"))
	s, err := g.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NotEmpty(t, s.UserID)
}

func TestSignUpSeedsProfileRow(t *testing.T) {
	g := setupGateway(t)
	uid := register(t, g, "olimar@pikapost.local")

	rows, err := g.Query(context.Background(), store.CollectionProfiles, store.Query{
		Filter: store.Where(store.Eq("id", uid)),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "olimar", rows[0].Str("username"))
}

func TestSignIn_RateLimited(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	require.NoError(t, g.SignUp(ctx, "olimar@pikapost.local", "secret-123"))

	for i := 0; i < rateLimitAttempts; i++ {
		require.ErrorIs(t, g.SignIn(ctx, "olimar@pikapost.local", "wrong"), common.ErrInvalidCredentials)
	}
	// Even the correct password is rejected while the window lasts.
	require.ErrorIs(t, g.SignIn(ctx, "olimar@pikapost.local", "secret-123"), common.ErrRateLimited)
}

func TestUnconfirmedAccountRejected(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	require.NoError(t, g.SignUp(ctx, "olimar@pikapost.local", "secret-123"))

	_, err := g.db.Exec(`UPDATE auth_users SET confirmed = 0 WHERE identifier = 'olimar@pikapost.local'`)
	require.NoError(t, err)

	require.ErrorIs(t, g.SignIn(ctx, "olimar@pikapost.local", "secret-123"), common.ErrAccountUnconfirmed)
}

func TestSessionNotifications(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	require.NoError(t, g.SignUp(ctx, "olimar@pikapost.local", "secret-123"))

	var events []bool
	unsub := g.OnSessionChange(func(s *store.Session) {
		events = append(events, s != nil)
	})
	defer unsub()

	require.NoError(t, g.SignIn(ctx, "olimar@pikapost.local", "secret-123"))
	require.NoError(t, g.SignOut(ctx))
	require.Equal(t, []bool{true, false}, events)
}

func TestInsertQueryUpdateDelete(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	uid := register(t, g, "olimar@pikapost.local")

	row, err := g.Insert(ctx, store.CollectionFriends, store.Fields{
		"user_id":     uid,
		"friend_name": "Louie",
		"is_favorite": false,
	})
	require.NoError(t, err)
	id := row.Str("id")
	require.NotEmpty(t, id)
	require.Equal(t, "Louie", row.Str("friend_name"))

	require.NoError(t, g.Update(ctx, store.CollectionFriends,
		store.Where(store.Eq("id", id)), store.Fields{"is_favorite": true}))

	rows, err := g.Query(ctx, store.CollectionFriends, store.Query{
		Filter: store.Where(store.Eq("user_id", uid)),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Bool("is_favorite"))

	require.NoError(t, g.Delete(ctx, store.CollectionFriends, store.Where(store.Eq("id", id))))
	rows, err = g.Query(ctx, store.CollectionFriends, store.Query{
		Filter: store.Where(store.Eq("user_id", uid)),
	})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestQuery_LeftJoinNesting(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	uid := register(t, g, "olimar@pikapost.local")

	pc, err := g.Insert(ctx, store.CollectionPostcards, store.Fields{
		"title": "Central Park Fountain", "image_url": "http://blobs.local/a.png",
	})
	require.NoError(t, err)

	_, err = g.Insert(ctx, store.CollectionUserPostcards, store.Fields{
		"user_id": uid, "postcard_id": pc.Str("id"), "collected_date": "2024-01-02",
	})
	require.NoError(t, err)

	rows, err := g.Query(ctx, store.CollectionUserPostcards, store.Query{
		Columns: []string{"id", "collected_date", "is_favorite", "sent_to"},
		Filter:  store.Where(store.Eq("user_id", uid)),
		Joins: []store.Join{{
			Table: store.CollectionPostcards, As: "postcard",
			LocalColumn: "postcard_id", ForeignColumn: "id",
			Columns: []string{"id", "title", "image_url"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	entity := rows[0].Sub("postcard")
	require.NotNil(t, entity)
	require.Equal(t, "Central Park Fountain", entity.Str("title"))
}

func TestQuery_MissingJoinCounterpartDropsAlias(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	uid := register(t, g, "olimar@pikapost.local")

	_, err := g.Insert(ctx, store.CollectionFriends, store.Fields{
		"user_id": uid, "friend_name": "Louie",
	})
	require.NoError(t, err)

	rows, err := g.Query(ctx, store.CollectionFriends, store.Query{
		Columns: []string{"id", "friend_name"},
		Filter:  store.Where(store.Eq("user_id", uid)),
		Joins: []store.Join{{
			Table: store.CollectionProfiles, As: "friend_profile",
			LocalColumn: "friend_id", ForeignColumn: "id",
			Columns: []string{"id", "username", "avatar"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].Sub("friend_profile"))
}

func TestQuery_AnyFilterAndNotNull(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	uid := register(t, g, "olimar@pikapost.local")
	other := register(t, g, "louie@pikapost.local")

	pc, err := g.Insert(ctx, store.CollectionPostcards, store.Fields{"title": "x"})
	require.NoError(t, err)

	for _, f := range []store.Fields{
		{"sender_id": uid, "receiver_id": other, "postcard_id": pc.Str("id"), "sent_date": "2024-01-01T00:00:00Z"},
		{"sender_id": other, "receiver_id": uid, "postcard_id": pc.Str("id"), "sent_date": "2024-01-02T00:00:00Z"},
		{"sender_id": other, "receiver_id": "someone-else", "postcard_id": pc.Str("id"), "sent_date": "2024-01-03T00:00:00Z"},
	} {
		_, err := g.Insert(ctx, store.CollectionExchangeRecords, f)
		require.NoError(t, err)
	}

	rows, err := g.Query(ctx, store.CollectionExchangeRecords, store.Query{
		Filter: store.Filter{
			Any: []store.Cond{store.Eq("sender_id", uid), store.Eq("receiver_id", uid)},
		},
		Order: &store.Order{Column: "sent_date", Descending: true},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2024-01-02T00:00:00Z", rows[0].Str("sent_date"))

	// sent_to is NULL for both relationship rows, so NotNull filters them out.
	_, err = g.Insert(ctx, store.CollectionUserPostcards, store.Fields{
		"user_id": uid, "postcard_id": pc.Str("id"), "collected_date": "2024-01-01",
	})
	require.NoError(t, err)
	annotated, err := g.Query(ctx, store.CollectionUserPostcards, store.Query{
		Filter: store.Filter{All: []store.Cond{store.Eq("user_id", uid), store.NotNull("sent_to")}},
	})
	require.NoError(t, err)
	require.Empty(t, annotated)
}

func TestQuery_Limit(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	uid := register(t, g, "olimar@pikapost.local")

	for i := 0; i < 5; i++ {
		_, err := g.Insert(ctx, store.CollectionFriends, store.Fields{
			"user_id": uid, "friend_name": fmt.Sprintf("friend-%d", i),
		})
		require.NoError(t, err)
	}

	rows, err := g.Query(ctx, store.CollectionFriends, store.Query{
		Filter: store.Where(store.Eq("user_id", uid)),
		Limit:  3,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestDeleteCascadesRelationships(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	uid := register(t, g, "olimar@pikapost.local")

	pc, err := g.Insert(ctx, store.CollectionPostcards, store.Fields{"title": "x"})
	require.NoError(t, err)
	_, err = g.Insert(ctx, store.CollectionUserPostcards, store.Fields{
		"user_id": uid, "postcard_id": pc.Str("id"), "collected_date": "2024-01-01",
	})
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, store.CollectionPostcards,
		store.Where(store.Eq("id", pc.Str("id")))))

	rels, err := g.Query(ctx, store.CollectionUserPostcards, store.Query{
		Filter: store.Where(store.Eq("user_id", uid)),
	})
	require.NoError(t, err)
	require.Empty(t, rels)
}

func TestUploadBlobAndPublicURL(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, g.UploadBlob(ctx, store.BucketPostcards, "u-1/a.png", []byte{1, 2, 3}))
	require.Equal(t, "http://blobs.local/postcards/u-1/a.png",
		g.PublicURL(store.BucketPostcards, "u-1/a.png"))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(context.Background(), DialectSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db, DialectSQLite))

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='goose_db_version'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "goose_db_version", name)
}
