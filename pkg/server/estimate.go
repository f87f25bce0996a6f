package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/honorarium/pkg/estimator"
	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/report"
	"github.com/raterudder/honorarium/pkg/types"
)

// numberText holds a number sent either as a JSON number or as the text a
// user typed.
type numberText string

func (n *numberText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numberText(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected a number or string: %w", err)
	}
	*n = numberText(num.String())
	return nil
}

type estimateRequest struct {
	Communities  numberText `json:"communities"`
	CurrentPrice numberText `json:"currentPrice"`
	To           string     `json:"to"`
}

type formattedLine struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type estimateResponse struct {
	Result        types.Result      `json:"result"`
	Formatted     [][]formattedLine `json:"formatted"`
	ConfigVersion int               `json:"configVersion"`
}

type estimated struct {
	types.Result
	req     estimateRequest
	version int
}

// estimate decodes the request and runs it against the current snapshot. On
// failure the error response has already been written.
func (s *Server) estimate(w http.ResponseWriter, r *http.Request) (estimated, bool) {
	ctx := r.Context()

	var req estimateRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode estimate request", slog.Any("error", err))
		s.metrics.estimates.WithLabelValues(outcomeInvalid).Inc()
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return estimated{}, false
	}

	in, err := estimator.ParseInputs(string(req.Communities), string(req.CurrentPrice))
	if err == nil {
		snap := s.snapshot()
		var res types.Result
		res, err = estimator.Compute(in, snap.Config)
		if err == nil {
			s.metrics.estimates.WithLabelValues(outcomeOK).Inc()
			s.metrics.estimatedFees.Observe(res.FeeTotal)
			log.Ctx(ctx).DebugContext(
				ctx,
				"estimate computed",
				slog.Float64("communities", res.CommunityCount),
				slog.Int64("totalCUPS", res.TotalCUPS),
				slog.Float64("feeTotal", res.FeeTotal),
			)
			return estimated{Result: res, req: req, version: snap.version}, true
		}
	}

	if errors.Is(err, estimator.ErrInvalidInput) {
		s.metrics.estimates.WithLabelValues(outcomeInvalid).Inc()
		writeJSONError(w, estimator.ErrInvalidInput.Error(), http.StatusBadRequest)
		return estimated{}, false
	}
	log.Ctx(ctx).ErrorContext(ctx, "failed to compute estimate", slog.Any("error", err))
	s.metrics.estimates.WithLabelValues(outcomeError).Inc()
	writeJSONError(w, "failed to compute estimate", http.StatusInternalServerError)
	return estimated{}, false
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	est, ok := s.estimate(w, r)
	if !ok {
		return
	}

	sections := report.Sections(est.Result)
	formatted := make([][]formattedLine, len(sections))
	for i, section := range sections {
		formatted[i] = make([]formattedLine, len(section))
		for j, l := range section {
			formatted[i][j] = formattedLine{Label: l.Label, Value: l.Value}
		}
	}

	writeJSON(w, estimateResponse{
		Result:        est.Result,
		Formatted:     formatted,
		ConfigVersion: est.version,
	})
}

func (s *Server) handleEstimateSummary(w http.ResponseWriter, r *http.Request) {
	est, ok := s.estimate(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, s.composer.Summary(est.Result)); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleEstimateEmail(w http.ResponseWriter, r *http.Request) {
	est, ok := s.estimate(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.composer.Email(est.Result, strings.TrimSpace(est.req.To)))
}

func (s *Server) handleEstimateXLSX(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	est, ok := s.estimate(w, r)
	if !ok {
		return
	}

	b, err := s.composer.XLSX(est.Result)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build spreadsheet", slog.Any("error", err))
		writeJSONError(w, "failed to build spreadsheet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="honorarios.xlsx"`)
	if _, err := w.Write(b); err != nil {
		panic(http.ErrAbortHandler)
	}
}
