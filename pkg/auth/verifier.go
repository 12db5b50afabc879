// Package auth verifies bearer tokens for the HTTP and WebSocket surfaces.
// Sessions work anonymously; a valid token binds them to a user id.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parleyhq/parley/pkg/config"
)

// ErrUnauthenticated is returned for tokens that fail verification. A
// missing token is not an error; it yields an anonymous identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// mockUserID is the identity granted by mock mode for any non-empty token.
const mockUserID = "dev-user"

// Verifier validates HS256 JWTs and extracts the user id from the subject
// claim.
type Verifier struct {
	secret []byte
	mock   bool
}

// New creates a verifier from the auth configuration.
func New(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" && !cfg.MockMode {
		return nil, fmt.Errorf("auth: jwt_secret is required unless mock_mode is enabled")
	}
	return &Verifier{secret: []byte(cfg.JWTSecret), mock: cfg.MockMode}, nil
}

// Verify validates a raw token. An empty token is anonymous: it returns
// ("", nil). An invalid token returns ErrUnauthenticated.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	if v.mock {
		return mockUserID, nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return sub, nil
}

// VerifyHeader validates an Authorization header value, accepting the
// Bearer scheme or a bare token.
func (v *Verifier) VerifyHeader(header string) (string, error) {
	token := strings.TrimSpace(header)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(after)
	}
	return v.Verify(token)
}
