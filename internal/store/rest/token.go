package rest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luyichen/pikapost/internal/store"
)

// sessionFromToken extracts the user id from the access token without
// verifying the signature. The backend is the verifier; the client only
// needs the subject claim and a cheap expiry check.
func sessionFromToken(token string) (*store.Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("access token has no subject")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if time.Now().After(exp.Time) {
			return nil, fmt.Errorf("access token expired at %s", exp.Time.Format(time.RFC3339))
		}
	}
	return &store.Session{UserID: sub, AccessToken: token}, nil
}

// tokenFile persists the raw access token between process runs.
type tokenFile struct {
	path string
}

func (f *tokenFile) load() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (f *tokenFile) save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.path, []byte(token), 0o600)
}

func (f *tokenFile) clear() {
	os.Remove(f.path)
}
