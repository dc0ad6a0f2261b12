package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printshop-api/internal/common"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, subject string, now time.Time, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer("idp").
		Audience([]string{"printshop"}).
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testSecret))
	require.NoError(t, err)
	return string(signed)
}

func testVerifier(now time.Time) Verifier {
	return Verifier{
		Secret:   testSecret,
		Issuer:   "idp",
		Audience: "printshop",
		Now:      func() time.Time { return now },
	}
}

func TestVerifierParsesSubject(t *testing.T) {
	now := time.Now()
	v := testVerifier(now)
	userID, err := v.ParseAccessToken(signToken(t, "user-1", now, time.Minute))
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	now := time.Now()
	v := testVerifier(now)

	_, err := v.ParseAccessToken("")
	require.Error(t, err)

	_, err = v.ParseAccessToken(signToken(t, "user-1", now.Add(-time.Hour), time.Minute))
	require.Error(t, err)

	_, err = v.ParseAccessToken(signToken(t, "", now, time.Minute))
	require.Error(t, err)

	other := v
	other.Secret = []byte("another-secret-another-secret-00")
	_, err = other.ParseAccessToken(signToken(t, "user-1", now, time.Minute))
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func captureIdentity(t *testing.T) (http.Handler, *string, *string) {
	t.Helper()
	var userID, sid string
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = common.UserID(r.Context())
		sid, _ = common.SessionID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), &userID, &sid
}

func TestAuthenticateAttachesUser(t *testing.T) {
	now := time.Now()
	m := Middleware{Tokens: testVerifier(now)}
	next, userID, _ := captureIdentity(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-7", now, time.Minute))
	rec := httptest.NewRecorder()
	m.Authenticate(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-7", *userID)

	*userID = ""
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	m.Authenticate(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, *userID)
}

func TestRequireAuth(t *testing.T) {
	now := time.Now()
	m := Middleware{Tokens: testVerifier(now), AccessCookie: "access_token"}
	next, userID, _ := captureIdentity(t)

	rec := httptest.NewRecorder()
	m.RequireAuth(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signToken(t, "user-3", now, time.Minute)})
	rec = httptest.NewRecorder()
	m.RequireAuth(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-3", *userID)
}

func TestSessionFromHeaderCookieOrNew(t *testing.T) {
	m := Middleware{}
	next, _, sid := captureIdentity(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultSessionHeader, "sid-header")
	rec := httptest.NewRecorder()
	m.Session(next).ServeHTTP(rec, req)
	require.Equal(t, "sid-header", *sid)
	require.Empty(t, rec.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "sid-cookie"})
	rec = httptest.NewRecorder()
	m.Session(next).ServeHTTP(rec, req)
	require.Equal(t, "sid-cookie", *sid)

	rec = httptest.NewRecorder()
	m.Session(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, *sid)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, DefaultSessionCookie, cookies[0].Name)
	require.Equal(t, *sid, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
}
