package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sync-engine/contract"
)

var _ contract.TokenProvider = (*ExpiringTokenProvider)(nil)

var ErrTokenExpired = fmt.Errorf("auth token expired")

// IsJWT reports whether the credential looks like a JSON Web Token.
// Opaque API keys pass through untouched.
func IsJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// ExpiringTokenProvider serves a JWT credential and refuses to hand it
// out once its exp claim has passed. The signature is not verified here;
// only the server holds the signing key. Catching expiry locally turns a
// guaranteed 401 burst into a single clear error.
type ExpiringTokenProvider struct {
	token  string
	expiry time.Time
	log    *slog.Logger
}

func NewExpiringTokenProvider(token string, log *slog.Logger) (*ExpiringTokenProvider, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed jwt credential: %w", err)
	}

	p := &ExpiringTokenProvider{token: token, log: log}
	if claims.ExpiresAt != nil {
		p.expiry = claims.ExpiresAt.Time
		log.Debug("Credential expiry parsed", "expires_at", p.expiry)
	}
	return p, nil
}

func (p *ExpiringTokenProvider) Token(_ context.Context) (string, error) {
	if !p.expiry.IsZero() && time.Now().After(p.expiry) {
		p.log.Warn("Refusing expired credential", "expired_at", p.expiry)
		return "", fmt.Errorf("%w: expired at %s", ErrTokenExpired, p.expiry.Format(time.RFC3339))
	}
	return p.token, nil
}
