// Package storetest provides a configurable in-memory fake of store.Gateway
// for unit tests. Behavior defaults to "everything succeeds with empty
// results"; tests override the Fn hooks or the Err fields they care about.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/luyichen/pikapost/internal/store"
)

// Call records one write issued against the fake.
type Call struct {
	Method     string
	Collection string
	Fields     store.Fields
	Filter     store.Filter
}

type Fake struct {
	mu sync.Mutex

	Session    *store.Session
	CurrentErr error

	SignInErr  error
	SignUpErr  error
	SignOutErr error

	// UserID assigned on a successful SignIn when no hook is set.
	UserID string

	QueryFn  func(ctx context.Context, collection string, q store.Query) ([]store.Row, error)
	InsertFn func(ctx context.Context, collection string, fields store.Fields) (store.Row, error)
	UpdateFn func(ctx context.Context, collection string, f store.Filter, fields store.Fields) error
	DeleteFn func(ctx context.Context, collection string, f store.Filter) error

	UploadErr error
	URLBase   string

	Calls   []Call
	Queries []string // collections queried, in order

	next int
	subs map[int]func(*store.Session)
}

func New() *Fake {
	return &Fake{URLBase: "https://cdn.example.com", subs: make(map[int]func(*store.Session))}
}

// SetSession replaces the current session and notifies subscribers, the way a
// real gateway announces asynchronous identity changes.
func (f *Fake) SetSession(s *store.Session) {
	f.mu.Lock()
	f.Session = s
	fns := make([]func(*store.Session), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (f *Fake) CurrentSession(ctx context.Context) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Session, f.CurrentErr
}

func (f *Fake) OnSessionChange(fn func(*store.Session)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *Fake) SignIn(ctx context.Context, identifier, secret string) error {
	if f.SignInErr != nil {
		return f.SignInErr
	}
	id := f.UserID
	if id == "" {
		id = "user-" + identifier
	}
	f.SetSession(&store.Session{UserID: id, AccessToken: "token-" + id})
	return nil
}

func (f *Fake) SignUp(ctx context.Context, identifier, secret string) error {
	return f.SignUpErr
}

func (f *Fake) SignOut(ctx context.Context) error {
	if f.SignOutErr != nil {
		return f.SignOutErr
	}
	f.SetSession(nil)
	return nil
}

func (f *Fake) Query(ctx context.Context, collection string, q store.Query) ([]store.Row, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, collection)
	f.mu.Unlock()
	if f.QueryFn != nil {
		return f.QueryFn(ctx, collection, q)
	}
	return nil, nil
}

func (f *Fake) Insert(ctx context.Context, collection string, fields store.Fields) (store.Row, error) {
	f.record("insert", collection, fields, store.Filter{})
	if f.InsertFn != nil {
		return f.InsertFn(ctx, collection, fields)
	}
	row := store.Row{"id": uuid.NewString()}
	for k, v := range fields {
		row[k] = v
	}
	return row, nil
}

func (f *Fake) Update(ctx context.Context, collection string, flt store.Filter, fields store.Fields) error {
	f.record("update", collection, fields, flt)
	if f.UpdateFn != nil {
		return f.UpdateFn(ctx, collection, flt, fields)
	}
	return nil
}

func (f *Fake) Delete(ctx context.Context, collection string, flt store.Filter) error {
	f.record("delete", collection, nil, flt)
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, collection, flt)
	}
	return nil
}

func (f *Fake) UploadBlob(ctx context.Context, bucket, path string, data []byte) error {
	f.record("upload", bucket, store.Fields{"path": path, "size": len(data)}, store.Filter{})
	return f.UploadErr
}

func (f *Fake) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/%s/%s", f.URLBase, bucket, path)
}

func (f *Fake) record(method, collection string, fields store.Fields, flt store.Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: method, Collection: collection, Fields: fields, Filter: flt})
}

// CallsTo filters recorded calls by method and collection.
func (f *Fake) CallsTo(method, collection string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method && c.Collection == collection {
			out = append(out, c)
		}
	}
	return out
}

var _ store.Gateway = (*Fake)(nil)
