package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/storage"
	"github.com/raterudder/honorarium/pkg/types"
)

var errConfigExists = errors.New("config already stored, pass -force to overwrite")

func main() {
	s := storage.Configured()
	overrides := map[string]string{}
	lflag.JSON(&overrides, "set", overrides, "JSON map of field name (current or legacy) to value applied on top of the defaults")
	force := lflag.Bool("force", false, "Overwrite a config that is already stored")
	lflag.Configure()
	log.SetDefaultLogLevelFromLLog()

	ctx := context.Background()
	err := run(ctx, s, os.Stdout, overrides, *force)
	// close before any exit so the firestore client is released
	if cerr := s.Close(); cerr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", cerr))
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed config", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded config successfully", slog.Int("version", types.CurrentConfigVersion))
}

// knownFieldNames lists every accepted field name, current names first.
func knownFieldNames() []string {
	names := make([]string, 0, len(types.Fields))
	for _, f := range types.Fields {
		names = append(names, string(f))
	}
	return append(names, types.LegacyFieldNames()...)
}

func run(ctx context.Context, s storage.Database, out io.Writer, overrides map[string]string, force bool) error {
	_, version, err := s.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	if version != 0 && !force {
		return fmt.Errorf("%w (version %d)", errConfigExists, version)
	}

	cfg := types.DefaultConfig()
	for name, value := range overrides {
		field, err := types.ParseField(name)
		if err != nil {
			return fmt.Errorf("%w (known: %s)", err, strings.Join(knownFieldNames(), ","))
		}
		cfg, err = cfg.Set(field, value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}

	if err := s.SetConfig(ctx, cfg, types.CurrentConfigVersion); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	for _, f := range types.Fields {
		v, _ := cfg.Get(f)
		fmt.Fprintf(out, "%-20s %v\n", f, v)
	}
	return nil
}
