package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/storage"
	"github.com/raterudder/honorarium/pkg/types"
)

const maxChangesLimit = 500

type configResponse struct {
	Config  types.Config  `json:"config"`
	Version int           `json:"version"`
	ShareC  float64       `json:"shareC"`
	Fields  []types.Field `json:"fields"`
}

func newConfigResponse(snap *configSnapshot) configResponse {
	return configResponse{
		Config:  snap.Config,
		Version: snap.version,
		ShareC:  snap.ShareC(),
		Fields:  slices.Clone(types.Fields),
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, newConfigResponse(s.snapshot()))
}

type configUpdateRequest struct {
	Field string     `json:"field" validate:"required"`
	Value numberText `json:"value" validate:"required"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req configUpdateRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode config update", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, "field and value are required", http.StatusBadRequest)
		return
	}

	snap, err := s.setField(ctx, s.getAdmin(r), req.Field, string(req.Value))
	if err != nil {
		switch {
		case errors.Is(err, types.ErrUnknownField), errors.Is(err, types.ErrInvalidValue):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			writeJSONError(w, "failed to update config", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, newConfigResponse(snap))
}

// setField applies a single field edit. Edits are serialized, and the new
// snapshot only becomes active once it has been persisted.
func (s *Server) setField(ctx context.Context, admin types.Admin, name, raw string) (*configSnapshot, error) {
	field, err := types.ParseField(name)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "unknown config field", slog.String("field", name))
		return nil, err
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	current := s.snapshot()
	next, err := current.Set(field, raw)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "rejected config value", slog.String("field", string(field)), slog.String("value", raw), slog.Any("error", err))
		return nil, err
	}

	if err := s.storage.SetConfig(ctx, next, types.CurrentConfigVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save config", slog.Any("error", err))
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	oldValue, _ := current.Get(field)
	newValue, _ := next.Get(field)
	change := types.ConfigChange{
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Actor:     admin.Name(),
		Version:   types.CurrentConfigVersion,
		Timestamp: s.now(),
	}
	if err := s.storage.InsertConfigChange(ctx, change); err != nil {
		// the config itself is saved so the edit still goes through
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert config change", slog.Any("error", err))
	}

	snap := &configSnapshot{Config: next, version: types.CurrentConfigVersion}
	s.cfg.Store(snap)
	s.metrics.configUpdates.WithLabelValues(string(field)).Inc()

	log.Ctx(ctx).InfoContext(
		ctx,
		"config updated",
		slog.String("field", string(field)),
		slog.Float64("oldValue", oldValue),
		slog.Float64("newValue", newValue),
		slog.String("admin", admin.Name()),
	)
	return snap, nil
}

func (s *Server) handleListConfigChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := storage.DefaultChangesLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit <= 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(limit, maxChangesLimit)
	}

	changes, err := s.storage.ListConfigChanges(ctx, limit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list config changes", slog.Any("error", err))
		writeJSONError(w, "failed to list config changes", http.StatusInternalServerError)
		return
	}
	if changes == nil {
		changes = []types.ConfigChange{}
	}
	writeJSON(w, changes)
}
