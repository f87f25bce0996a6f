package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raterudder/honorarium/pkg/report"
	"github.com/raterudder/honorarium/pkg/storage"
	"github.com/raterudder/honorarium/pkg/storage/storagemock"
	"github.com/raterudder/honorarium/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

var testSessionKey = []byte("01234567890123456789012345678901")

func newTestServer(t *testing.T, db storage.Database) *Server {
	t.Helper()
	if db == nil {
		db = storage.NewMemory()
	}
	srv := New(db, report.New())
	srv.adminSecret = testSecret
	srv.sessionKey = testSessionKey
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, url string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.setupHandler(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestMiddlewareHeaders(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.setupHandler(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
	assert.Contains(t, w.Header().Get("Server"), "honorarium/")
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Cache-Control"))

	w = doJSON(t, srv.setupHandler(), http.MethodGet, "/api/auth/status", nil)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.setupHandler()

	w := doJSON(t, h, http.MethodPost, "/api/estimate", map[string]string{"communities": "100", "currentPrice": "0.20"})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodPost, "/api/estimate", map[string]string{"communities": "0", "currentPrice": "0.20"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, h, http.MethodPost, "/api/estimate", map[string]string{"communities": "1", "currentPrice": "1e308"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `honorarium_estimates_total{outcome="ok"} 1`)
	assert.Contains(t, body, `honorarium_estimates_total{outcome="invalid"} 2`)
	assert.Contains(t, body, `honorarium_estimates_total{outcome="error"} 0`)
	assert.Contains(t, body, "honorarium_estimated_fee_total_count 1")
}

func TestLoadConfig(t *testing.T) {
	t.Run("Fresh Storage Gets Defaults", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetConfig", mock.Anything).Return(types.Config{}, 0, nil).Once()
		db.On("SetConfig", mock.Anything, types.DefaultConfig(), types.CurrentConfigVersion).Return(nil).Once()

		srv := newTestServer(t, db)
		require.NoError(t, srv.loadConfig(t.Context()))

		assert.Equal(t, types.DefaultConfig(), srv.snapshot().Config)
		assert.Equal(t, types.CurrentConfigVersion, srv.snapshot().version)
		db.AssertExpectations(t)
	})

	t.Run("Current Version Is Not Rewritten", func(t *testing.T) {
		cfg := types.DefaultConfig()
		cfg.FeeA = 30

		db := &storagemock.MockDatabase{}
		db.On("GetConfig", mock.Anything).Return(cfg, types.CurrentConfigVersion, nil).Once()

		srv := newTestServer(t, db)
		require.NoError(t, srv.loadConfig(t.Context()))

		assert.Equal(t, 30.0, srv.snapshot().FeeA)
		db.AssertNotCalled(t, "SetConfig", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Version 1 Gets One CUPS Per Community", func(t *testing.T) {
		cfg := types.DefaultConfig()
		cfg.CUPSPerCommunity = 0

		db := &storagemock.MockDatabase{}
		db.On("GetConfig", mock.Anything).Return(cfg, 1, nil).Once()
		db.On("SetConfig", mock.Anything, mock.Anything, types.CurrentConfigVersion).Return(nil).Once()

		srv := newTestServer(t, db)
		require.NoError(t, srv.loadConfig(t.Context()))

		assert.Equal(t, 1.0, srv.snapshot().CUPSPerCommunity)
		db.AssertExpectations(t)
	})

	t.Run("Failed Migration Save Still Loads", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetConfig", mock.Anything).Return(types.Config{}, 0, nil).Once()
		db.On("SetConfig", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

		srv := newTestServer(t, db)
		require.NoError(t, srv.loadConfig(t.Context()))
		assert.Equal(t, types.DefaultConfig(), srv.snapshot().Config)
	})

	t.Run("Storage Error", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetConfig", mock.Anything).Return(types.Config{}, 0, assert.AnError).Once()

		srv := newTestServer(t, db)
		assert.ErrorIs(t, srv.loadConfig(t.Context()), assert.AnError)
	})

	t.Run("Invalid Stored Config", func(t *testing.T) {
		cfg := types.DefaultConfig()
		cfg.ShareA = 2

		db := &storagemock.MockDatabase{}
		db.On("GetConfig", mock.Anything).Return(cfg, types.CurrentConfigVersion, nil).Once()

		srv := newTestServer(t, db)
		assert.ErrorIs(t, srv.loadConfig(t.Context()), types.ErrInvalidValue)
		// the previous snapshot stays active
		assert.Equal(t, types.DefaultConfig(), srv.snapshot().Config)
	})
}
