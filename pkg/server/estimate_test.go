package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/raterudder/honorarium/pkg/report"
	"github.com/raterudder/honorarium/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestNumberText(t *testing.T) {
	tests := []struct {
		in   string
		want numberText
	}{
		{`"100"`, "100"},
		{`" 0,20 "`, " 0,20 "},
		{`100`, "100"},
		{`0.2`, "0.2"},
		{`1e3`, "1e3"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var n numberText
		require.NoError(t, json.Unmarshal([]byte(tt.in), &n), tt.in)
		assert.Equal(t, tt.want, n, tt.in)
	}

	var n numberText
	assert.Error(t, json.Unmarshal([]byte(`true`), &n))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &n))
}

func TestHandleEstimate(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.setupHandler()

	t.Run("Defaults", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/estimate", map[string]any{"communities": 100, "currentPrice": "0,20"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp estimateResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		res := resp.Result
		assert.Equal(t, int64(220), res.TotalCUPS)
		assert.Equal(t, int64(99), res.CUPSA)
		assert.Equal(t, int64(88), res.CUPSB)
		assert.Equal(t, int64(33), res.CUPSC)
		assert.InDelta(t, 3085500, res.ConsumptionTotal, 1e-6)
		assert.InDelta(t, 617100, res.CostCurrent, 1e-6)
		assert.InDelta(t, 478252.5, res.CostProposed, 1e-6)
		assert.InDelta(t, 138847.5, res.Savings, 1e-6)
		assert.InDelta(t, 14955.6, res.FeeTotal, 1e-6)
		assert.Equal(t, types.CurrentConfigVersion, resp.ConfigVersion)

		require.Len(t, resp.Formatted, 3)
		assert.Equal(t, formattedLine{Label: "Total de CUPS estimados", Value: "220"}, resp.Formatted[0][1])
		assert.Equal(t, formattedLine{Label: "Honorarios TOTALES", Value: "14.955,60 €"}, resp.Formatted[2][3])
	})

	t.Run("Invalid Input", func(t *testing.T) {
		bodies := []map[string]any{
			{"communities": "", "currentPrice": "0.20"},
			{"communities": "100", "currentPrice": "abc"},
			{"communities": -5, "currentPrice": 0.2},
			{"communities": 100, "currentPrice": 0},
			{},
		}
		for _, body := range bodies {
			w := doJSON(t, h, http.MethodPost, "/api/estimate", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			assert.JSONEq(t, `{"error":"invalid input"}`, w.Body.String())
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		bodies := []map[string]string{
			{"communities": "1", "currentPrice": "1e308"},
			{"communities": "1e19", "currentPrice": "0.2"},
		}
		for _, path := range []string{"/api/estimate", "/api/estimate/summary", "/api/estimate/email", "/api/estimate/xlsx"} {
			for _, body := range bodies {
				w := doJSON(t, h, http.MethodPost, path, body)
				assert.Equal(t, http.StatusBadRequest, w.Code, "%s %v", path, body)
				assert.JSONEq(t, `{"error":"invalid input"}`, w.Body.String())
			}
		}
	})

	t.Run("Malformed Body", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/estimate", map[string]any{"communities": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
	})

	t.Run("Wrong Method", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/api/estimate", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleEstimateSummary(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/estimate/summary", map[string]string{"communities": "100", "currentPrice": "0.20"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "Resultados\n"))
	assert.Contains(t, body, "Total de comunidades: 100\n")
	assert.Contains(t, body, "Ahorro estimado: 138.847,50 €\n")
	assert.Contains(t, body, srv.composer.Signature[0])
}

func TestHandleEstimateEmail(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/estimate/email", map[string]string{
		"communities":  "100",
		"currentPrice": "0.20",
		"to":           " client@example.com ",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var email report.Email
	require.NoError(t, json.NewDecoder(w.Body).Decode(&email))
	assert.Equal(t, srv.composer.EmailSubject, email.Subject)
	assert.Contains(t, email.Body, "Honorarios TOTALES: 14.955,60 €")

	u, err := url.Parse(email.Mailto)
	require.NoError(t, err)
	assert.Equal(t, "mailto", u.Scheme)
	assert.Equal(t, "client@example.com", u.Opaque)
	assert.Equal(t, email.Body, u.Query().Get("body"))
}

func TestHandleEstimateXLSX(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.setupHandler(), http.MethodPost, "/api/estimate/xlsx", map[string]string{"communities": "100", "currentPrice": "0.20"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "honorarios.xlsx")

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(report.SheetName)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
}

func TestEstimateUsesLatestSnapshot(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.setupHandler()
	cookie := login(t, h)

	w := doJSON(t, h, http.MethodPost, "/api/config", map[string]string{"field": "fee_a", "value": "30"}, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/estimate", map[string]string{"communities": "100", "currentPrice": "0.20"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp estimateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.InDelta(t, 99*30.0, resp.Result.FeeA, 1e-9)
}

func TestEstimateWithHugeConfigValue(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.setupHandler()
	cookie := login(t, h)

	w := doJSON(t, h, http.MethodPost, "/api/config", map[string]string{"field": "fee_c", "value": "1e308"}, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/estimate/summary", map[string]string{"communities": "100", "currentPrice": "0.20"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid input"}`, w.Body.String())
}
