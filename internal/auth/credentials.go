// Package auth carries the caller's backend credentials explicitly instead of
// through ambient global state.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when a JWT bearer token is past its exp claim.
var ErrTokenExpired = errors.New("session token has expired")

// parserUnverified inspects token claims without checking the signature. The
// backend is the authority on signatures; the client only needs the expiry.
var parserUnverified = jwt.NewParser()

// Credentials is an explicitly passed session. A nil *Credentials is anonymous.
type Credentials struct {
	token     string
	subject   string
	expiresAt time.Time
	now       func() time.Time
}

// NewCredentials wraps a bearer token. JWTs have their subject and expiry read
// (unverified); opaque tokens are accepted as-is. An empty token yields nil.
func NewCredentials(token string) (*Credentials, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	c := &Credentials{token: token, now: time.Now}

	if strings.Count(token, ".") != 2 {
		return c, nil // opaque token
	}
	parsed, _, err := parserUnverified.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}
	if sub, err := parsed.Claims.GetSubject(); err == nil {
		c.subject = sub
	}
	return c, nil
}

// WithClock overrides the time source. Used by tests.
func (c *Credentials) WithClock(now func() time.Time) *Credentials {
	if c != nil {
		c.now = now
	}
	return c
}

// Anonymous reports whether no token is held.
func (c *Credentials) Anonymous() bool { return c == nil || c.token == "" }

// Subject returns the JWT sub claim, if any.
func (c *Credentials) Subject() string {
	if c == nil {
		return ""
	}
	return c.subject
}

// ExpiresAt returns the token expiry and whether the token carries one.
func (c *Credentials) ExpiresAt() (time.Time, bool) {
	if c == nil || c.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.expiresAt, true
}

// Valid returns ErrTokenExpired once the token's expiry has passed.
func (c *Credentials) Valid() error {
	exp, ok := c.ExpiresAt()
	if !ok {
		return nil
	}
	if !c.now().Before(exp) {
		return fmt.Errorf("%w (expired at %s)", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// Apply sets the Authorization header on req. Anonymous credentials leave the
// request untouched.
func (c *Credentials) Apply(req *http.Request) error {
	if c.Anonymous() {
		return nil
	}
	if err := c.Valid(); err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return nil
}

// String redacts the token.
func (c *Credentials) String() string {
	if c.Anonymous() {
		return "anonymous"
	}
	if c.subject != "" {
		return "bearer(" + c.subject + ")"
	}
	return "bearer(***)"
}
