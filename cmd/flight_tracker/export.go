package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"flight_tracker/internal/config"
	"flight_tracker/internal/export"
)

func runExport(args []string) error {
	c := newCommonFlags("export")
	format := c.fs.String("format", "kml", "Output format: kml, geojson or csv")
	output := c.fs.String("output", "", "Output file (default: stdout)")
	maxAge := c.fs.Duration("max-age", 0, "Staleness cutoff (overrides config)")
	maxPoints := c.fs.Int("max-points", 0, "Trail points per flight (overrides config)")

	cfg, logCloser, err := c.load(args, func(cfg *config.Config, set map[string]bool) {
		if set["max-age"] {
			cfg.Retention.MaxAge = *maxAge
		}
		if set["max-points"] {
			cfg.Retention.MaxTrailPoints = *maxPoints
		}
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	write, err := exportWriter(*format)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	trails, err := export.Collect(ctx, st, cfg.Retention.MaxAge, cfg.Retention.MaxTrailPoints)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := write(out, trails); err != nil {
		return err
	}
	if *output != "" {
		slog.Info("exported trails", "flights", len(trails), "format", *format, "output", *output)
	}
	return nil
}

func exportWriter(format string) (func(io.Writer, []export.Trail) error, error) {
	switch format {
	case "kml":
		return func(w io.Writer, trails []export.Trail) error {
			return export.WriteKML(w, trails, time.Now())
		}, nil
	case "geojson", "json":
		return export.WriteGeoJSON, nil
	case "csv":
		return export.WriteCSV, nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want kml, geojson or csv)", format)
	}
}
