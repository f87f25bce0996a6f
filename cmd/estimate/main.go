package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/honorarium/pkg/estimator"
	"github.com/raterudder/honorarium/pkg/log"
	"github.com/raterudder/honorarium/pkg/report"
	"github.com/raterudder/honorarium/pkg/storage"
	"github.com/raterudder/honorarium/pkg/types"
)

func main() {
	s := storage.Configured()
	c := report.Configured()
	communities := lflag.RequiredString("communities", "Number of managed communities")
	currentPrice := lflag.RequiredString("current-price", "Current energy price in €/kWh")
	asJSON := lflag.Bool("json", false, "Print the raw result as JSON instead of the summary")
	xlsxPath := lflag.String("xlsx", "", "Also write the estimate as a spreadsheet to this path")
	lflag.Configure()
	log.SetDefaultLogLevelFromLLog()

	ctx := context.Background()
	if err := run(ctx, s, c, *communities, *currentPrice, *asJSON, *xlsxPath); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "estimate failed", slog.Any("error", err))
		s.Close()
		os.Exit(1)
	}
	s.Close()
}

func run(ctx context.Context, s storage.Database, c *report.Composer, communities, currentPrice string, asJSON bool, xlsxPath string) error {
	cfg, version, err := s.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	// nothing is written back here, the server owns migrations
	cfg, _, err = types.MigrateConfig(cfg, version)
	if err != nil {
		return err
	}

	in, err := estimator.ParseInputs(communities, currentPrice)
	if err != nil {
		return errors.New("communities and current-price must be positive numbers")
	}
	res, err := estimator.Compute(in, cfg)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Print(c.Summary(res))
	}

	if xlsxPath != "" {
		b, err := c.XLSX(res)
		if err != nil {
			return err
		}
		if err := os.WriteFile(xlsxPath, b, 0o644); err != nil {
			return fmt.Errorf("failed to write spreadsheet: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "wrote spreadsheet", slog.String("path", xlsxPath))
	}
	return nil
}
