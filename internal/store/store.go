// Package store defines the remote-store gateway the repositories are written
// against: session primitives plus generic query/insert/update/delete and blob
// upload. Implementations live in the sqlgateway (self-hosted SQL) and rest
// (hosted HTTP API) subpackages; tests use hand-written fakes.
package store

import "context"

// Collection names consumed by the client. Column names are an internal
// contract between the repositories and the store.
const (
	CollectionPostcards       = "postcards"
	CollectionUserPostcards   = "user_postcards"
	CollectionFriends         = "friends"
	CollectionExchangeRecords = "exchange_records"
	CollectionProfiles        = "profiles"
)

// Object-storage buckets.
const (
	BucketPostcards     = "postcards"
	BucketFriendAvatars = "friend-avatars"
)

// Session is the opaque identity the backend resolved for the current user.
type Session struct {
	UserID      string
	AccessToken string
}

// Gateway is the full remote-store surface the client consumes.
//
// Auth errors returned by SignIn/SignUp are classified into the sentinel
// errors of internal/common (invalid credentials, unconfirmed account,
// duplicate registration, rate limiting); unrecognized backend messages pass
// through wrapped, never swallowed.
type Gateway interface {
	// CurrentSession returns the persisted session, or nil when none exists.
	CurrentSession(ctx context.Context) (*Session, error)

	// OnSessionChange registers a callback invoked on every session change
	// (sign-in, sign-out, token refresh, invalidation). The returned function
	// unsubscribes; it is safe to call more than once.
	OnSessionChange(fn func(*Session)) (unsubscribe func())

	SignIn(ctx context.Context, identifier, secret string) error
	SignUp(ctx context.Context, identifier, secret string) error
	SignOut(ctx context.Context) error

	Query(ctx context.Context, collection string, q Query) ([]Row, error)
	Insert(ctx context.Context, collection string, fields Fields) (Row, error)
	Update(ctx context.Context, collection string, f Filter, fields Fields) error
	Delete(ctx context.Context, collection string, f Filter) error

	UploadBlob(ctx context.Context, bucket, path string, data []byte) error
	PublicURL(bucket, path string) string
}
