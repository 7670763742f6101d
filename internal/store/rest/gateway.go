// Package rest implements store.Gateway against the hosted PostgREST-style
// backend: /auth/v1 for identity, /rest/v1 for data, /storage/v1 for blobs.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/luyichen/pikapost/internal/common"
	"github.com/luyichen/pikapost/internal/logging"
	"github.com/luyichen/pikapost/internal/store"
)

type Gateway struct {
	baseURL string
	anonKey string
	http    *http.Client
	log     logging.Logger
	tokens  *tokenFile

	mu      sync.Mutex
	session *store.Session
	token   string
	next    int
	subs    map[int]func(*store.Session)
}

// New builds a gateway for the given project URL and anon key. tokenPath may
// be empty, in which case the session lives only for the process lifetime.
func New(baseURL, anonKey, tokenPath string, log logging.Logger) *Gateway {
	if log == nil {
		log = logging.NewNop()
	}
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With("gateway", "rest"),
		subs:    make(map[int]func(*store.Session)),
	}
	if tokenPath != "" {
		g.tokens = &tokenFile{path: tokenPath}
	}
	return g
}

func (g *Gateway) CurrentSession(ctx context.Context) (*store.Session, error) {
	g.mu.Lock()
	if g.session != nil {
		s := g.session
		g.mu.Unlock()
		return s, nil
	}
	g.mu.Unlock()

	if g.tokens == nil {
		return nil, nil
	}
	token, err := g.tokens.load()
	if err != nil || token == "" {
		return nil, nil
	}
	s, err := sessionFromToken(token)
	if err != nil {
		g.log.Warn(ctx, "discarding saved token", "err", err)
		g.tokens.clear()
		return nil, nil
	}

	g.mu.Lock()
	g.session = s
	g.token = token
	g.mu.Unlock()
	return s, nil
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

func (g *Gateway) setSession(s *store.Session, token string) {
	g.mu.Lock()
	g.session = s
	g.token = token
	fns := make([]func(*store.Session), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	if g.tokens != nil {
		if token == "" {
			g.tokens.clear()
		} else if err := g.tokens.save(token); err != nil {
			g.log.Warn(context.Background(), "saving token", "err", err)
		}
	}
	for _, fn := range fns {
		fn(s)
	}
}

func (g *Gateway) accessToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" {
		return g.token
	}
	return g.anonKey
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID string `json:"id"`
	} `json:"user"`
}

type authError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
}

func (e authError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

// classifyAuthError maps backend auth messages onto the sentinel errors the
// callers match with errors.Is. Unrecognized messages pass through wrapped.
func classifyAuthError(status int, message string) error {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		return common.ErrRateLimited
	case strings.Contains(lower, "invalid login credentials"):
		return common.ErrInvalidCredentials
	case strings.Contains(lower, "email not confirmed"),
		strings.Contains(lower, "not confirmed"):
		return common.ErrAccountUnconfirmed
	case strings.Contains(lower, "already registered"),
		strings.Contains(lower, "already been registered"):
		return common.ErrAccountExists
	default:
		return fmt.Errorf("%w: auth failed (%d): %s", common.ErrRemoteWrite, status, message)
	}
}

func (g *Gateway) postAuth(ctx context.Context, path string, body any) (*authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.accessToken())

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading auth response: %v", common.ErrRemoteRead, err)
	}

	if resp.StatusCode >= 400 {
		var ae authError
		_ = json.Unmarshal(raw, &ae)
		return nil, classifyAuthError(resp.StatusCode, ae.text())
	}

	var out authResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding auth response: %v", common.ErrRemoteRead, err)
	}
	return &out, nil
}

func (g *Gateway) SignIn(ctx context.Context, identifier, secret string) error {
	out, err := g.postAuth(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    identifier,
		"password": secret,
	})
	if err != nil {
		return err
	}

	s, err := sessionFromToken(out.AccessToken)
	if err != nil {
		// Some deployments return opaque tokens; trust the user object then.
		if out.User.ID == "" {
			return fmt.Errorf("%w: token without user id: %v", common.ErrRemoteRead, err)
		}
		s = &store.Session{UserID: out.User.ID, AccessToken: out.AccessToken}
	}
	g.setSession(s, out.AccessToken)
	return nil
}

func (g *Gateway) SignUp(ctx context.Context, identifier, secret string) error {
	_, err := g.postAuth(ctx, "/auth/v1/signup", map[string]string{
		"email":    identifier,
		"password": secret,
	})
	return err
}

func (g *Gateway) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.accessToken())

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sign out: %v", common.ErrRemoteWrite, err)
	}
	resp.Body.Close()
	// 401 means the token already expired server-side; treat it as signed out.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("%w: sign out failed (%d)", common.ErrRemoteWrite, resp.StatusCode)
	}

	g.setSession(nil, "")
	return nil
}

var _ store.Gateway = (*Gateway)(nil)
