// Package session owns the current-user identity and its lifecycle. Every
// repository scopes its queries and caches by the identity exposed here and
// must discard state when it becomes absent.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/store"
)

// handleSuffix is the fixed private-namespace suffix appended to a local
// account handle to produce the address-shaped identifier the backend
// requires. The mapping is deterministic and the address is never routable.
const handleSuffix = "@pikapost.local"

// Identifier maps an account handle to its derived backend identifier.
// The same handle always maps to the same identifier.
func Identifier(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle)) + handleSuffix
}

// Manager exposes the current user identity (or none) and a resolved flag
// distinguishing "still determining" from "determined absent".
type Manager struct {
	gw  store.Gateway
	log logging.Logger

	mu       sync.Mutex
	userID   string
	resolved bool
	next     int
	subs     map[int]func(userID string, signedIn bool)

	unsub func()
}

// NewManager recovers a persisted session and subscribes to asynchronous
// identity-change notifications from the gateway. The subscription stays
// active until Close.
func NewManager(ctx context.Context, gw store.Gateway, log logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Manager{gw: gw, log: log, subs: make(map[int]func(string, bool))}

	// Subscribe before the initial read so a change racing the recovery is
	// not lost; setState is idempotent for repeated identical states.
	m.unsub = gw.OnSessionChange(func(s *store.Session) {
		m.setState(s)
	})

	s, err := gw.CurrentSession(ctx)
	if err != nil {
		m.log.Warn(ctx, "session recovery failed, treating as signed out", "err", err)
		s = nil
	}
	m.setState(s)
	return m
}

// Close tears down the gateway subscription. The manager keeps its last
// observed state but stops updating.
func (m *Manager) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// UserID returns the current user id and whether a user is signed in.
func (m *Manager) UserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.userID != ""
}

// Resolved reports whether the initial session recovery has completed.
func (m *Manager) Resolved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved
}

// OnChange registers a callback invoked on every identity change, including
// transitions to signed-out. Callbacks run on the goroutine that observed the
// change.
func (m *Manager) OnChange(fn func(userID string, signedIn bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SignIn authenticates the handle/secret pair. Auth failures arrive already
// classified by the gateway (common.ErrInvalidCredentials and friends).
func (m *Manager) SignIn(ctx context.Context, handle, secret string) error {
	if strings.TrimSpace(handle) == "" || secret == "" {
		return fmt.Errorf("%w: handle and secret are required", common.ErrValidation)
	}
	if err := m.gw.SignIn(ctx, Identifier(handle), secret); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// SignUp registers a new account under the derived identifier.
func (m *Manager) SignUp(ctx context.Context, handle, secret string) error {
	if strings.TrimSpace(handle) == "" || secret == "" {
		return fmt.Errorf("%w: handle and secret are required", common.ErrValidation)
	}
	if err := m.gw.SignUp(ctx, Identifier(handle), secret); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	return nil
}

// SignOut invalidates the session remotely. Local identity clears only after
// the backend confirms, so in-flight writes from the old session are never
// attributed to a UI that already believes it is signed out.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.gw.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	m.setState(nil)
	return nil
}

func (m *Manager) setState(s *store.Session) {
	var id string
	if s != nil {
		id = s.UserID
	}

	m.mu.Lock()
	changed := !m.resolved || m.userID != id
	m.userID = id
	m.resolved = true
	fns := make([]func(string, bool), 0, len(m.subs))
	if changed {
		for _, fn := range m.subs {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(id, id != "")
	}
}
