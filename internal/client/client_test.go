package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

type fakeBackend struct {
	*httptest.Server
	meStatus    atomic.Int32
	meCalls     atomic.Int32
	logoutCalls atomic.Int32
	lastAuth    atomic.Value
	lastCT      atomic.Value
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.meStatus.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		b.meCalls.Add(1)
		b.lastAuth.Store(r.Header.Get("Authorization"))
		b.lastCT.Store(r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		status := int(b.meStatus.Load())
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"user": domain.PublicUser{
			ID: "42", Username: "alice", Discriminator: "0001", Avatar: "abc", Email: "a@x.com",
		}})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		b.logoutCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"logged out"}`))
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func newTestClient(t *testing.T, backendURL string) (*Client, *MemoryStorage, *MemoryStorage) {
	t.Helper()
	durable := NewMemoryStorage()
	session := NewMemoryStorage()
	c := New(Options{
		BackendURL:  backendURL,
		ClientID:    "client-id",
		RedirectURI: "http://localhost:3001/auth/discord/callback",
	}, durable, session)
	return c, durable, session
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   "42",
		"username": "alice",
		"email":    "a@x.com",
		"exp":      exp.Unix(),
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)
	return token
}

func successURL(token, state string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("state", state)
	return "http://localhost:8000/pages/auth/success?" + q.Encode()
}

func TestInitiateLogin_BuildsAuthorizationURL(t *testing.T) {
	c, _, session := newTestClient(t, "http://backend")

	raw, err := c.InitiateLogin("/dashboard")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "discord.com", u.Host)
	assert.Equal(t, "/api/oauth2/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:3001/auth/discord/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "identify email", q.Get("scope"))

	state, ok, _ := session.Get(KeyOAuthState)
	require.True(t, ok)
	assert.Equal(t, state, q.Get("state"))
	assert.Len(t, state, 43)

	returnURL, _, _ := session.Get(KeyReturnURL)
	assert.Equal(t, "/dashboard", returnURL)
}

func TestInitiateLogin_KeepsExistingReturnURLAndFreshNonce(t *testing.T) {
	c, _, session := newTestClient(t, "http://backend")
	require.NoError(t, session.Set(KeyReturnURL, "/first"))

	first, err := c.InitiateLogin("/second")
	require.NoError(t, err)
	second, err := c.InitiateLogin("")
	require.NoError(t, err)

	returnURL, _, _ := session.Get(KeyReturnURL)
	assert.Equal(t, "/first", returnURL)
	u1, _ := url.Parse(first)
	u2, _ := url.Parse(second)
	assert.NotEqual(t, u1.Query().Get("state"), u2.Query().Get("state"))
}

func TestInitiateLogin_NotConfigured(t *testing.T) {
	c := New(Options{BackendURL: "http://backend"}, NewMemoryStorage(), NewMemoryStorage())

	_, err := c.InitiateLogin("/")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReceiveToken_Success(t *testing.T) {
	backend := newFakeBackend(t)
	c, durable, session := newTestClient(t, backend.URL)
	authURL, err := c.InitiateLogin("/dashboard")
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	token := signedToken(t, time.Now().Add(time.Hour))

	receipt, err := c.ReceiveToken(context.Background(), successURL(token, u.Query().Get("state")))
	require.NoError(t, err)

	assert.Equal(t, "42", receipt.User.ID)
	assert.Equal(t, "/dashboard", receipt.ReturnURL)
	assert.Equal(t, "Bearer "+token, backend.lastAuth.Load())
	assert.Equal(t, "application/json", backend.lastCT.Load())

	stored, _, _ := durable.Get(KeyAuthToken)
	assert.Equal(t, token, stored)
	user, ok := c.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, c.IsAuthenticated())

	_, ok, _ = session.Get(KeyOAuthState)
	assert.False(t, ok, "nonce must be single use")
}

func TestReceiveToken_StateMismatch(t *testing.T) {
	backend := newFakeBackend(t)
	c, durable, session := newTestClient(t, backend.URL)
	_, err := c.InitiateLogin("/")
	require.NoError(t, err)

	_, err = c.ReceiveToken(context.Background(), successURL(signedToken(t, time.Now().Add(time.Hour)), "forged-state"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateMismatch)
	var loginErr *LoginError
	require.True(t, errors.As(err, &loginErr))
	assert.Equal(t, ReasonProcessingFailed, loginErr.Reason)

	assert.Zero(t, backend.meCalls.Load())
	_, ok, _ := durable.Get(KeyAuthToken)
	assert.False(t, ok)
	_, ok, _ = session.Get(KeyOAuthState)
	assert.False(t, ok, "nonce is discarded on mismatch too")
}

func TestReceiveToken_RejectedCallbackKeepsExistingSession(t *testing.T) {
	backend := newFakeBackend(t)
	c, durable, _ := newTestClient(t, backend.URL)
	existing := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, durable.Set(KeyAuthToken, existing))
	require.NoError(t, durable.Set(KeyUser, `{"id":"42","username":"alice"}`))

	_, err := c.ReceiveToken(context.Background(), successURL("attacker-token", "bogus"))
	assert.ErrorIs(t, err, ErrStateMismatch)

	_, err = c.ReceiveToken(context.Background(), "http://localhost:8000/pages/auth/success?state=")
	assert.ErrorIs(t, err, ErrStateMismatch)

	_, err = c.ReceiveToken(context.Background(), "http://[::1")
	require.Error(t, err)

	token, ok, _ := durable.Get(KeyAuthToken)
	require.True(t, ok)
	assert.Equal(t, existing, token)
	assert.True(t, c.IsAuthenticated())
	user, ok := c.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username)
	assert.Zero(t, backend.meCalls.Load())
}

func TestReceiveToken_NoStoredNonce(t *testing.T) {
	backend := newFakeBackend(t)
	c, _, _ := newTestClient(t, backend.URL)

	_, err := c.ReceiveToken(context.Background(), successURL("tok", strings.Repeat("A", 43)))
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestReceiveToken_MissingToken(t *testing.T) {
	backend := newFakeBackend(t)
	c, _, _ := newTestClient(t, backend.URL)
	authURL, _ := c.InitiateLogin("/")
	u, _ := url.Parse(authURL)

	_, err := c.ReceiveToken(context.Background(), "http://localhost:8000/pages/auth/success?state="+u.Query().Get("state"))
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Zero(t, backend.meCalls.Load())
}

func TestReceiveToken_BackendRejectsToken(t *testing.T) {
	backend := newFakeBackend(t)
	backend.meStatus.Store(http.StatusForbidden)
	c, durable, _ := newTestClient(t, backend.URL)
	authURL, _ := c.InitiateLogin("/")
	u, _ := url.Parse(authURL)

	_, err := c.ReceiveToken(context.Background(), successURL(signedToken(t, time.Now().Add(time.Hour)), u.Query().Get("state")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")

	_, ok, _ := durable.Get(KeyAuthToken)
	assert.False(t, ok, "token must not survive a failed login")
	_, ok = c.CurrentUser()
	assert.False(t, ok)
}

func TestDo_Unauthenticated(t *testing.T) {
	backend := newFakeBackend(t)
	c, _, _ := newTestClient(t, backend.URL)

	req, err := c.NewRequest(context.Background(), http.MethodGet, "/auth/me", nil)
	require.NoError(t, err)
	_, err = c.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, backend.meCalls.Load())
}

func TestDo_UnauthorizedClearsEverything(t *testing.T) {
	backend := newFakeBackend(t)
	backend.meStatus.Store(http.StatusUnauthorized)
	c, durable, session := newTestClient(t, backend.URL)
	require.NoError(t, durable.Set(KeyAuthToken, "tok"))
	require.NoError(t, durable.Set(KeyUser, `{"id":"42"}`))
	require.NoError(t, session.Set(KeyReturnURL, "/x"))

	req, _ := c.NewRequest(context.Background(), http.MethodGet, "/auth/me", nil)
	_, err := c.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), backend.meCalls.Load(), "no retry")

	_, ok, _ := durable.Get(KeyAuthToken)
	assert.False(t, ok)
	_, ok, _ = session.Get(KeyReturnURL)
	assert.False(t, ok)
}

func TestIsAuthenticated(t *testing.T) {
	c, durable, _ := newTestClient(t, "http://backend")
	assert.False(t, c.IsAuthenticated())

	require.NoError(t, durable.Set(KeyAuthToken, signedToken(t, time.Now().Add(-time.Minute))))
	assert.False(t, c.IsAuthenticated())

	require.NoError(t, durable.Set(KeyAuthToken, "not-a-jwt"))
	assert.False(t, c.IsAuthenticated())

	require.NoError(t, durable.Set(KeyAuthToken, signedToken(t, time.Now().Add(time.Hour))))
	assert.True(t, c.IsAuthenticated())
}

func TestCurrentUser_Corrupt(t *testing.T) {
	c, durable, _ := newTestClient(t, "http://backend")
	require.NoError(t, durable.Set(KeyUser, "{not json"))

	_, ok := c.CurrentUser()
	assert.False(t, ok)
}

func TestLogout(t *testing.T) {
	backend := newFakeBackend(t)
	c, durable, session := newTestClient(t, backend.URL)
	require.NoError(t, durable.Set(KeyAuthToken, "tok"))
	require.NoError(t, durable.Set(KeyUser, `{"id":"42"}`))
	require.NoError(t, session.Set(KeyOAuthState, "nonce"))

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, int32(1), backend.logoutCalls.Load())

	_, ok, _ := durable.Get(KeyAuthToken)
	assert.False(t, ok)
	_, ok, _ = session.Get(KeyOAuthState)
	assert.False(t, ok)
}

func TestLogout_BackendDownStillClears(t *testing.T) {
	c, durable, _ := newTestClient(t, "http://127.0.0.1:1")
	require.NoError(t, durable.Set(KeyAuthToken, "tok"))

	require.NoError(t, c.Logout(context.Background()))
	_, ok, _ := durable.Get(KeyAuthToken)
	assert.False(t, ok)
}

func TestAvatarURL(t *testing.T) {
	assert.Equal(t, "https://cdn.discordapp.com/avatars/42/abc.png?size=128",
		AvatarURL(domain.PublicUser{ID: "42", Avatar: "abc"}))
	assert.Equal(t, "https://cdn.discordapp.com/embed/avatars/2.png",
		AvatarURL(domain.PublicUser{ID: "42", Discriminator: "0007"}))
	assert.Equal(t, "https://cdn.discordapp.com/embed/avatars/0.png",
		AvatarURL(domain.PublicUser{ID: "not-a-snowflake", Discriminator: "0"}))
}

func TestBoltStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	store, err := OpenBoltStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(KeyAuthToken, "tok"))
	require.NoError(t, store.Set(KeyUser, "blob"))
	require.NoError(t, store.Delete(KeyUser))
	require.NoError(t, store.Close())

	store, err = OpenBoltStorage(path)
	require.NoError(t, err)
	defer store.Close()

	v, ok, err := store.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)
	_, ok, _ = store.Get(KeyUser)
	assert.False(t, ok)

	require.NoError(t, store.Clear())
	_, ok, _ = store.Get(KeyAuthToken)
	assert.False(t, ok)
	require.NoError(t, store.Set(KeyAuthToken, "again"))
}
