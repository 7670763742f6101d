// Package sqlgateway implements store.Gateway over database/sql for the
// self-hosted mode: sqlite for local use and tests, Postgres (pgx stdlib
// driver) for a shared deployment. Authentication is a local credential
// table; blobs are delegated to a BlobStore.
package sqlgateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/dbx"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/store"
)

// Dialect selects placeholder style and migration dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Rate limiting of failed sign-in attempts, per identifier.
const (
	rateLimitWindow   = time.Minute
	rateLimitAttempts = 5
)

type Gateway struct {
	db      *sql.DB
	dialect Dialect
	blobs   BlobStore
	log     logging.Logger

	mu       sync.Mutex
	session  *store.Session
	next     int
	subs     map[int]func(*store.Session)
	failures map[string][]time.Time
}

// New wires a gateway over an already-opened database. Call Migrate first.
func New(db *sql.DB, dialect Dialect, blobs BlobStore, log logging.Logger) *Gateway {
	if log == nil {
		log = logging.NewNop()
	}
	return &Gateway{
		db:       db,
		dialect:  dialect,
		blobs:    blobs,
		log:      log.With("gateway", string(dialect)),
		subs:     make(map[int]func(*store.Session)),
		failures: make(map[string][]time.Time),
	}
}

func (g *Gateway) CurrentSession(ctx context.Context) (*store.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session, nil
}

func (g *Gateway) OnSessionChange(fn func(*store.Session)) func() {
	g.mu.Lock()
	id := g.next
	g.next++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

func (g *Gateway) setSession(s *store.Session) {
	g.mu.Lock()
	g.session = s
	fns := make([]func(*store.Session), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (g *Gateway) rateLimited(identifier string) bool {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	recent := g.failures[identifier][:0]
	for _, t := range g.failures[identifier] {
		if now.Sub(t) < rateLimitWindow {
			recent = append(recent, t)
		}
	}
	g.failures[identifier] = recent
	return len(recent) >= rateLimitAttempts
}

func (g *Gateway) recordFailure(identifier string) {
	g.mu.Lock()
	g.failures[identifier] = append(g.failures[identifier], time.Now())
	g.mu.Unlock()
}

func (g *Gateway) SignIn(ctx context.Context, identifier, secret string) error {
	if g.rateLimited(identifier) {
		return common.ErrRateLimited
	}

	var (
		userID    string
		hash      string
		confirmed bool
	)
	err := g.db.QueryRowContext(ctx,
		g.rebind(`SELECT id, password_hash, confirmed FROM auth_users WHERE identifier = ?`),
		identifier).Scan(&userID, &hash, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		g.recordFailure(identifier)
		return common.ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("%w: sign in: %v", common.ErrRemoteRead, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		g.recordFailure(identifier)
		return common.ErrInvalidCredentials
	}
	if !confirmed {
		return common.ErrAccountUnconfirmed
	}

	g.setSession(&store.Session{UserID: userID, AccessToken: uuid.NewString()})
	return nil
}

// SignUp registers the credentials and seeds the profile row the rest of the
// client expects to exist for every authenticated identity.
func (g *Gateway) SignUp(ctx context.Context, identifier, secret string) error {
	var existing int
	err := g.db.QueryRowContext(ctx,
		g.rebind(`SELECT count(*) FROM auth_users WHERE identifier = ?`), identifier).Scan(&existing)
	if err != nil {
		return fmt.Errorf("%w: sign up: %v", common.ErrRemoteRead, err)
	}
	if existing > 0 {
		return common.ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}

	userID := uuid.NewString()
	username, _, _ := strings.Cut(identifier, "@")
	err = dbx.WithTx(ctx, g.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			g.rebind(`INSERT INTO auth_users (id, identifier, password_hash, confirmed) VALUES (?, ?, ?, ?)`),
			userID, identifier, string(hash), true); err != nil {
			return fmt.Errorf("sign up: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			g.rebind(`INSERT INTO profiles (id, username, avatar) VALUES (?, ?, '')`),
			userID, username); err != nil {
			return fmt.Errorf("seed profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}
	return nil
}

func (g *Gateway) SignOut(ctx context.Context) error {
	g.setSession(nil)
	return nil
}

func (g *Gateway) UploadBlob(ctx context.Context, bucket, path string, data []byte) error {
	if g.blobs == nil {
		return fmt.Errorf("%w: no blob store configured", common.ErrRemoteWrite)
	}
	return g.blobs.Upload(ctx, bucket, path, data)
}

func (g *Gateway) PublicURL(bucket, path string) string {
	if g.blobs == nil {
		return ""
	}
	return g.blobs.PublicURL(bucket, path)
}

var _ store.Gateway = (*Gateway)(nil)
