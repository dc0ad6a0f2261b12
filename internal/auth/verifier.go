package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/printshop-api/internal/common"
)

// ErrNoKey is returned when the verifier has neither a shared secret nor a key set.
var ErrNoKey = errors.New("auth: verifier has no signing key")

// Verifier checks access tokens minted by the identity provider and yields the subject
// as the user id. Keys come from a JWKS endpoint when Keys is set, otherwise from the
// HS256 shared Secret. This service never issues tokens.
type Verifier struct {
	Secret    []byte
	Keys      jwk.Set
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewJWKSVerifier returns a Verifier over a remote key set that refreshes in the
// background for as long as ctx lives.
func NewJWKSVerifier(ctx context.Context, url string, refresh time.Duration) (Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return Verifier{}, fmt.Errorf("register jwks: %w", err)
	}
	if _, err := cache.Refresh(ctx, url); err != nil {
		return Verifier{}, fmt.Errorf("fetch jwks: %w", err)
	}
	return Verifier{Keys: jwk.NewCachedSet(cache, url)}, nil
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Verifier) keyOption() (jwt.ParseOption, error) {
	switch {
	case v.Keys != nil:
		return jwt.WithKeySet(v.Keys, jws.WithInferAlgorithmFromKey(true)), nil
	case len(v.Secret) > 0:
		return jwt.WithKey(jwa.HS256, v.Secret), nil
	default:
		return nil, ErrNoKey
	}
}

// ParseAccessToken verifies the signature and the registered claims, then returns the subject.
func (v Verifier) ParseAccessToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", unauthorized("missing token", nil)
	}
	key, err := v.keyOption()
	if err != nil {
		return "", err
	}
	parsed, err := jwt.ParseString(token, key, jwt.WithValidate(false))
	if err != nil {
		return "", unauthorized("invalid token", err)
	}
	if err := jwt.Validate(parsed, v.validateOptions()...); err != nil {
		return "", unauthorized("invalid token", err)
	}
	return parsed.Subject(), nil
}

func (v Verifier) validateOptions() []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if v.ClockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	return opts
}

func unauthorized(message string, err error) error {
	return common.NewAppError("UNAUTHORIZED", message, http.StatusUnauthorized, err)
}
