package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/raterudder/honorarium/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionCookieFrom(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func login(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"secret": testSecret})
	require.Equal(t, http.StatusOK, w.Code)
	return sessionCookieFrom(t, w.Result())
}

func TestLogin(t *testing.T) {
	t.Run("Secret", func(t *testing.T) {
		srv := newTestServer(t, nil)
		h := srv.setupHandler()

		w := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"secret": testSecret})
		require.Equal(t, http.StatusOK, w.Code)

		cookie := sessionCookieFrom(t, w.Result())
		assert.True(t, cookie.HttpOnly)
		assert.NotEmpty(t, cookie.Value)

		var status authStatusResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.True(t, status.LoggedIn)
		assert.True(t, status.SecretAuth)
		assert.Empty(t, status.Email)
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		srv := newTestServer(t, nil)
		w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/auth/login", map[string]string{"secret": "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("Secret Login Disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)
		srv.adminSecret = ""
		w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/auth/login", map[string]string{"secret": ""})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, srv.setupHandler(), http.MethodPost, "/api/auth/login", map[string]string{"secret": "anything"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Invalid Body", func(t *testing.T) {
		srv := newTestServer(t, nil)
		w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/auth/login", "not an object")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("OIDC Token", func(t *testing.T) {
		srv := newTestServer(t, nil)
		srv.adminEmails = []string{"admin@example.com"}
		srv.oidcAudiences = map[string]string{"google": "client-id"}
		srv.oidcVerifiers = map[string]tokenVerifier{
			"google": func(ctx context.Context, raw string) (idClaims, error) {
				switch raw {
				case "admin-token":
					return idClaims{Email: "admin@example.com", Subject: "1"}, nil
				case "user-token":
					return idClaims{Email: "user@example.com", Subject: "2"}, nil
				case "no-email-token":
					return idClaims{Subject: "3"}, nil
				}
				return idClaims{}, errors.New("bad token")
			},
		}
		h := srv.setupHandler()

		w := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"token": "admin-token"})
		require.Equal(t, http.StatusOK, w.Code)
		cookie := sessionCookieFrom(t, w.Result())

		w = doJSON(t, h, http.MethodGet, "/api/auth/status", nil, cookie)
		var status authStatusResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.True(t, status.LoggedIn)
		assert.Equal(t, "admin@example.com", status.Email)
		assert.Equal(t, "client-id", status.ClientIDs["google"])

		w = doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"token": "user-token"})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"token": "no-email-token"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"token": "garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"token": "admin-token", "client": "apple"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Token Without Verifiers", func(t *testing.T) {
		srv := newTestServer(t, nil)
		w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/auth/login", map[string]string{"token": "admin-token"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthStatus(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.setupHandler()

	w := doJSON(t, h, http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status authStatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.False(t, status.LoggedIn)
	assert.True(t, status.SecretAuth)

	cookie := login(t, h)
	w = doJSON(t, h, http.MethodGet, "/api/auth/status", nil, cookie)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.True(t, status.LoggedIn)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cookie := sessionCookieFrom(t, w.Result())
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestAdminMiddleware(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.setupHandler()

	t.Run("No Cookie", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/api/config", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Garbage Cookie", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/api/config", nil, &http.Cookie{Name: sessionCookie, Value: "garbage"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		cookie := sessionCookieFrom(t, w.Result())
		assert.Empty(t, cookie.Value)
	})

	t.Run("Expired Session", func(t *testing.T) {
		value, err := srv.encodeSession(t.Context(), types.Admin{Expires: time.Now().Add(-time.Minute)})
		require.NoError(t, err)
		w := doJSON(t, h, http.MethodGet, "/api/config", nil, &http.Cookie{Name: sessionCookie, Value: value})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Session From Other Key", func(t *testing.T) {
		other := newTestServer(t, nil)
		other.sessionKey = []byte("abcdefghijabcdefghijabcdefghij12")
		value, err := other.encodeSession(t.Context(), types.Admin{Expires: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		w := doJSON(t, h, http.MethodGet, "/api/config", nil, &http.Cookie{Name: sessionCookie, Value: value})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Valid Session", func(t *testing.T) {
		cookie := login(t, h)
		w := doJSON(t, h, http.MethodGet, "/api/config", nil, cookie)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Session Outlives TTL", func(t *testing.T) {
		cookie := login(t, h)
		srv.now = func() time.Time { return time.Now().Add(defaultSessionTTL + time.Minute) }
		defer func() { srv.now = time.Now }()

		w := doJSON(t, h, http.MethodGet, "/api/config", nil, cookie)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
