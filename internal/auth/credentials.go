package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when the credentials file is missing or holds no token.
// The realtime client treats this as fatal at construction: it will not dial.
var ErrNoToken = errors.New("no auth token")

// ErrTokenExpired is returned when the stored token's exp claim is in the past.
var ErrTokenExpired = errors.New("auth token expired")

// Credentials is the per-session auth state persisted in credentials.json.
// It is the daemon-side stand-in for the browser's auth cookie.
type Credentials struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
}

// Load reads credentials from path. A missing file or empty token yields ErrNoToken.
func Load(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, ErrNoToken
	}
	return &creds, nil
}

// Save writes credentials to path with mode 0600.
func Save(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Clear removes the credentials file. Missing file is not an error.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Inspect parses the token's claims without verifying the signature; the
// client holds no signing key, verification is the server's job. It returns
// the subject claim and ErrTokenExpired if the exp claim has passed.
func (c *Credentials) Inspect(now time.Time) (subject string, err error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(c.Token, jwt.MapClaims{})
	if err != nil {
		// Opaque (non-JWT) tokens are accepted as-is; the server decides.
		return c.UserID, nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return c.UserID, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		subject = sub
	} else {
		subject = c.UserID
	}
	exp, err := claims.GetExpirationTime()
	if err == nil && exp != nil && exp.Before(now) {
		return subject, ErrTokenExpired
	}
	return subject, nil
}
