package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/store"
)

// makeToken builds an unsigned JWT good enough for ParseUnverified.
func makeToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	claims := enc(map[string]any{"sub": sub, "exp": exp.Unix()})
	return header + "." + claims + "."
}

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "anon-key", "", nil)
}

func TestSignIn_EstablishesSessionFromJWT(t *testing.T) {
	token := ""
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/token", r.URL.Path)
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": token})
	}))
	token = makeToken(t, "user-1", time.Now().Add(time.Hour))

	var notified *store.Session
	gw.OnSessionChange(func(s *store.Session) { notified = s })

	require.NoError(t, gw.SignIn(context.Background(), "a@b.c", "secret"))

	s, err := gw.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, "user-1", s.UserID)
	require.NotNil(t, notified)
	require.Equal(t, "user-1", notified.UserID)
}

func TestSignIn_OpaqueTokenUsesUserObject(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "opaque-token",
			"user":         map[string]string{"id": "user-2"},
		})
	}))

	require.NoError(t, gw.SignIn(context.Background(), "a@b.c", "secret"))
	s, err := gw.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user-2", s.UserID)
	require.Equal(t, "opaque-token", s.AccessToken)
}

func TestAuthErrorClassification(t *testing.T) {
	tests := []struct {
		status  int
		message string
		want    error
	}{
		{http.StatusBadRequest, "Invalid login credentials", common.ErrInvalidCredentials},
		{http.StatusBadRequest, "Email not confirmed", common.ErrAccountUnconfirmed},
		{http.StatusUnprocessableEntity, "User already registered", common.ErrAccountExists},
		{http.StatusTooManyRequests, "", common.ErrRateLimited},
		{http.StatusBadRequest, "email rate limit exceeded", common.ErrRateLimited},
	}
	for _, tt := range tests {
		require.ErrorIs(t, classifyAuthError(tt.status, tt.message), tt.want, tt.message)
	}
	require.ErrorIs(t, classifyAuthError(http.StatusBadGateway, "upstream broke"), common.ErrRemoteWrite)
}

func TestSignIn_BadCredentials(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid login credentials"})
	}))

	err := gw.SignIn(context.Background(), "a@b.c", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	s, err := gw.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestQuery_BuildsPostgRESTRequest(t *testing.T) {
	var captured *http.Request
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		fmt.Fprint(w, `[{"id":"r-1","is_favorite":true,"friend_profile":{"id":"p-9","username":"ash"}}]`)
	}))

	rows, err := gw.Query(context.Background(), "friends", store.Query{
		Columns: []string{"id", "is_favorite"},
		Joins: []store.Join{{
			Table: "profiles", As: "friend_profile",
			LocalColumn: "friend_id", ForeignColumn: "id",
			Columns: []string{"id", "username"},
		}},
		Filter: store.Filter{
			All: []store.Cond{store.Eq("user_id", "u-1")},
			Any: []store.Cond{store.Eq("status", "sent"), store.NotNull("sent_to")},
		},
		Order: &store.Order{Column: "friend_name", Descending: true},
		Limit: 3,
	})
	require.NoError(t, err)

	require.Equal(t, "/rest/v1/friends", captured.URL.Path)
	q := captured.URL.Query()
	require.Equal(t, "id,is_favorite,friend_profile:profiles!friend_id(id,username)", q.Get("select"))
	require.Equal(t, "eq.u-1", q.Get("user_id"))
	require.Equal(t, "(status.eq.sent,sent_to.not.is.null)", q.Get("or"))
	require.Equal(t, "friend_name.desc", q.Get("order"))
	require.Equal(t, "3", q.Get("limit"))
	require.Equal(t, "anon-key", captured.Header.Get("apikey"))
	require.Equal(t, "Bearer anon-key", captured.Header.Get("Authorization"))

	require.Len(t, rows, 1)
	require.Equal(t, "r-1", rows[0].Str("id"))
	sub := rows[0].Sub("friend_profile")
	require.NotNil(t, sub)
	require.Equal(t, "ash", sub.Str("username"))
}

func TestQuery_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"id":"r-1"}]`)
	}))

	rows, err := gw.Query(context.Background(), "postcards", store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int32(3), calls.Load())
}

func TestQuery_ClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"malformed filter"}`)
	}))

	_, err := gw.Query(context.Background(), "postcards", store.Query{})
	require.ErrorIs(t, err, common.ErrRemoteRead)
	require.Equal(t, int32(1), calls.Load())
}

func TestInsert_ReturnsRepresentation(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "return=representation", r.Header.Get("Prefer"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Lumiose City", body["title"])
		fmt.Fprint(w, `[{"id":"new-1","title":"Lumiose City"}]`)
	}))

	row, err := gw.Insert(context.Background(), "postcards", store.Fields{"title": "Lumiose City"})
	require.NoError(t, err)
	require.Equal(t, "new-1", row.Str("id"))
}

func TestUpdateAndDelete_FilterParams(t *testing.T) {
	type call struct {
		method string
		query  string
	}
	var calls []call
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.RawQuery})
	}))

	f := store.Where(store.Eq("id", "r-1"))
	require.NoError(t, gw.Update(context.Background(), "friends", f, store.Fields{"is_favorite": true}))
	require.NoError(t, gw.Delete(context.Background(), "friends", f))

	require.Len(t, calls, 2)
	require.Equal(t, http.MethodPatch, calls[0].method)
	require.Equal(t, "id=eq.r-1", calls[0].query)
	require.Equal(t, http.MethodDelete, calls[1].method)
	require.Equal(t, "id=eq.r-1", calls[1].query)
}

func TestSignOut_ToleratesExpiredToken(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/v1/logout" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": makeToken(t, "user-1", time.Now().Add(time.Hour)),
		})
	}))

	require.NoError(t, gw.SignIn(context.Background(), "a@b.c", "secret"))
	require.NoError(t, gw.SignOut(context.Background()))

	s, err := gw.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestTokenPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	token := makeToken(t, "user-1", time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": token})
	}))
	defer srv.Close()

	gw := New(srv.URL, "anon-key", path, nil)
	require.NoError(t, gw.SignIn(context.Background(), "a@b.c", "secret"))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, token, string(saved))

	// A fresh process picks the session back up from disk.
	gw2 := New(srv.URL, "anon-key", path, nil)
	s, err := gw2.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, "user-1", s.UserID)
}

func TestTokenPersistence_ExpiredTokenDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	expired := makeToken(t, "user-1", time.Now().Add(-time.Hour))
	require.NoError(t, os.WriteFile(path, []byte(expired), 0o600))

	gw := New("http://unused.invalid", "anon-key", path, nil)
	s, err := gw.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, s)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestUploadBlobAndPublicURL(t *testing.T) {
	var captured *http.Request
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
	}))

	err := gw.UploadBlob(context.Background(), "postcards", "u-1/img.png", []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, "/storage/v1/object/postcards/u-1/img.png", captured.URL.Path)
	require.Equal(t, http.MethodPost, captured.Method)

	url := gw.PublicURL("postcards", "u-1/img.png")
	require.Contains(t, url, "/storage/v1/object/public/postcards/u-1/img.png")
}
