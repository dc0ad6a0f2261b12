package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printshop-api/internal/common"
)

func buildToken(t *testing.T, mutate func(*jwt.Builder) *jwt.Builder, now time.Time) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer("idp").
		Audience([]string{"printshop"}).
		Subject("user-1").
		IssuedAt(now).
		Expiration(now.Add(time.Minute))
	if mutate != nil {
		b = mutate(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func signHS(t *testing.T, tok jwt.Token, secret []byte) string {
	t.Helper()
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifierClaims(t *testing.T) {
	now := time.Now()
	v := testVerifier(now)

	cases := map[string]func(*jwt.Builder) *jwt.Builder{
		"wrong issuer":   func(b *jwt.Builder) *jwt.Builder { return b.Issuer("other") },
		"wrong audience": func(b *jwt.Builder) *jwt.Builder { return b.Audience([]string{"admin"}) },
		"not yet valid":  func(b *jwt.Builder) *jwt.Builder { return b.NotBefore(now.Add(5 * time.Minute)) },
		"expired":        func(b *jwt.Builder) *jwt.Builder { return b.Expiration(now.Add(-time.Minute)) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseAccessToken(signHS(t, buildToken(t, mutate, now), testSecret))
			require.Error(t, err)
			require.True(t, common.IsAppError(err))
		})
	}
}

func TestVerifierAcceptsSkew(t *testing.T) {
	now := time.Now()
	v := testVerifier(now)
	v.ClockSkew = time.Minute
	tok := buildToken(t, func(b *jwt.Builder) *jwt.Builder { return b.Expiration(now.Add(-30 * time.Second)) }, now)
	sub, err := v.ParseAccessToken(signHS(t, tok, testSecret))
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)
}

func TestVerifierRejectsUnsignedToken(t *testing.T) {
	now := time.Now()
	unsigned, err := jwt.NewSerializer().Serialize(buildToken(t, nil, now))
	require.NoError(t, err)
	_, err = testVerifier(now).ParseAccessToken(string(unsigned))
	require.Error(t, err)
}

func TestVerifierKeySet(t *testing.T) {
	now := time.Now()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	private, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.RS256))
	public, err := jwk.PublicKeyOf(private)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	signed, err := jwt.Sign(buildToken(t, nil, now), jwt.WithKey(jwa.RS256, private))
	require.NoError(t, err)

	v := Verifier{Keys: set, Issuer: "idp", Audience: "printshop", Now: func() time.Time { return now }}
	sub, err := v.ParseAccessToken(string(signed))
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)

	// an HS256 token signed with a guessed secret must not pass a key-set verifier
	_, err = v.ParseAccessToken(signHS(t, buildToken(t, nil, now), testSecret))
	require.Error(t, err)
}

func TestVerifierWithoutKey(t *testing.T) {
	_, err := Verifier{}.ParseAccessToken("a.b.c")
	require.ErrorIs(t, err, ErrNoKey)
}
