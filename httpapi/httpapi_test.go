package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate"
	"github.com/authgate/authgate/middleware"
	"github.com/authgate/authgate/password"
)

type fixtureProvider struct {
	account *authgate.Account
}

func (p *fixtureProvider) FindAccountByEmail(_ context.Context, email string) (*authgate.Account, error) {
	if p.account.Email == email {
		return p.account, nil
	}
	return nil, authgate.ErrAccountNotFound
}

func (p *fixtureProvider) TenantUUID(_ context.Context, ref string) (string, error) {
	return ref, nil
}

func (p *fixtureProvider) SubjectEmail(context.Context, string) (string, error) {
	return p.account.Email, nil
}

func (p *fixtureProvider) RolesForSubject(context.Context, string) ([]string, error) {
	return []string{"editor"}, nil
}

func (p *fixtureProvider) PermissionsForRoles(context.Context, []string) ([]string, error) {
	return []string{"media.manage"}, nil
}

func (p *fixtureProvider) DirectGrants(context.Context, string, time.Time) ([]string, error) {
	return nil, nil
}

type fixture struct {
	engine   *authgate.Engine
	router   http.Handler
	provider *fixtureProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := authgate.DefaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-material-0123456789")
	cfg.Token.RefreshSecret = []byte("refresh-secret-material-987654321")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

	hasher, err := password.NewHasher(cfg.Password)
	require.NoError(t, err)
	hash, err := hasher.Hash("correct-horse-battery")
	require.NoError(t, err)

	provider := &fixtureProvider{
		account: &authgate.Account{
			SubjectID:    "subj-1",
			Email:        "op@example.com",
			PasswordHash: hash,
			IsActive:     true,
		},
	}

	engine, err := authgate.New().
		WithConfig(cfg).
		WithIdentityProvider(provider).
		WithLogger(zerolog.Nop()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	handler := NewHandler(engine, zerolog.Nop(), Config{})
	return &fixture{engine: engine, router: handler.Router(), provider: provider}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, rememberMe bool) (map[string]interface{}, []*http.Cookie) {
	t.Helper()

	body := `{"email":"op@example.com","password":"correct-horse-battery"`
	if rememberMe {
		body += `,"rememberMe":true`
	}
	body += `}`

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload, rec.Result().Cookies()
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)

	payload, cookies := f.login(t, false)

	assert.Equal(t, true, payload["success"])
	assert.NotEmpty(t, payload["accessToken"])
	assert.NotEmpty(t, payload["refreshToken"])
	assert.InDelta(t, (15 * time.Minute).Seconds(), payload["expiresIn"], 1)

	user := payload["user"].(map[string]interface{})
	assert.Equal(t, "subj-1", user["id"])
	assert.Equal(t, "op@example.com", user["email"])

	access := cookieByName(cookies, middleware.AccessCookie)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.Positive(t, access.MaxAge)

	// Without rememberMe the refresh cookie is session-scoped.
	refresh := cookieByName(cookies, RefreshCookie)
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Zero(t, refresh.MaxAge)
}

func TestLoginRememberMeExtendsRefreshCookie(t *testing.T) {
	f := newFixture(t)

	_, cookies := f.login(t, true)

	refresh := cookieByName(cookies, RefreshCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), refresh.MaxAge)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"wrong password", `{"email":"op@example.com","password":"nope"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"unknown email", `{"email":"ghost@example.com","password":"nope"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"missing fields", `{"email":"op@example.com"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed body", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.body))
			rec := f.do(req)

			assert.Equal(t, tc.status, rec.Code)
			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, false, payload["success"])
			assert.Equal(t, tc.code, payload["error"])
		})
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newFixture(t)
	f.provider.account.IsActive = false

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"op@example.com","password":"correct-horse-battery"}`))
	rec := f.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACCOUNT_DISABLED")
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)

	payload, cookies := f.login(t, false)
	refresh := cookieByName(cookies, RefreshCookie)
	require.NotNil(t, refresh)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, payload["refreshToken"], rotated["refreshToken"])
	require.NotNil(t, cookieByName(rec.Result().Cookies(), RefreshCookie))

	// The pre-rotation cookie is single-use: replaying it fails and
	// clears the client's cookies.
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec = f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REFRESH_TOKEN")
	cleared := cookieByName(rec.Result().Cookies(), RefreshCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestRefreshWithoutCookie(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/refresh", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REFRESH_TOKEN")
}

func TestLogoutRevokesAndClearsCookies(t *testing.T) {
	f := newFixture(t)

	payload, cookies := f.login(t, false)
	access := cookieByName(cookies, middleware.AccessCookie)
	require.NotNil(t, access)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(access)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, name := range []string{middleware.AccessCookie, RefreshCookie} {
		c := cookieByName(rec.Result().Cookies(), name)
		require.NotNil(t, c, name)
		assert.Negative(t, c.MaxAge, name)
	}

	// The still-unexpired access token is dead because its session is
	// gone.
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+payload["accessToken"].(string))
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutTokenStillSucceeds(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestMe(t *testing.T) {
	f := newFixture(t)

	payload, _ := f.login(t, false)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+payload["accessToken"].(string))
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "subj-1", user["id"])
	assert.Contains(t, user["roles"], "editor")
	assert.Contains(t, user["permissions"], "media.manage")

	// Unauthenticated introspection is rejected.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCSRFTokenEndpoint(t *testing.T) {
	f := newFixture(t)

	payload, cookies := f.login(t, false)
	access := cookieByName(cookies, middleware.AccessCookie)
	require.NotNil(t, access)

	req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	req.AddCookie(access)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	csrf, _ := body["csrfToken"].(string)
	require.NotEmpty(t, csrf)

	// The value matches the session the access token is bound to.
	_, sess, err := f.engine.Authenticate(context.Background(), payload["accessToken"].(string))
	require.NoError(t, err)
	assert.Equal(t, sess.CSRFToken, csrf)
}
