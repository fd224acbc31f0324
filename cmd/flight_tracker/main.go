// Command flight_tracker ingests aircraft state from an upstream feed, keeps
// current flight state and bounded position trails, and serves them over a
// REST API.
//
// Usage:
//
//	flight_tracker serve     [-config FILE] [-db PATH] [-addr ADDR] [-source TYPE] [-interval D]
//	flight_tracker ingest    [-config FILE] [-db PATH] [-source TYPE]
//	flight_tracker sweep     [-config FILE] [-db PATH] [-max-age D] [-max-points N]
//	flight_tracker stats     [-config FILE] [-db PATH]
//	flight_tracker normalize -source TYPE [-input FILE] [-output FILE] [-pretty] [-stats]
//	flight_tracker export    [-config FILE] [-db PATH] [-format kml|geojson|csv] [-output FILE]
//
// Configuration comes from the YAML file given by -config (env: FT_CONFIG),
// then .env and FT_* environment variables, then flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"flight_tracker/internal/api"
	"flight_tracker/internal/config"
	"flight_tracker/internal/logging"
	"flight_tracker/internal/pipeline"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "flight_tracker - commands:")
	fmt.Fprintln(w, "  serve      - run the ingestion loop and the REST API")
	fmt.Fprintln(w, "  ingest     - run one ingestion tick and exit")
	fmt.Fprintln(w, "  sweep      - run one retention sweep and exit")
	fmt.Fprintln(w, "  stats      - print flight and trail point counts")
	fmt.Fprintln(w, "  normalize  - convert raw upstream records to canonical JSON")
	fmt.Fprintln(w, "  export     - write retained trails as KML, GeoJSON or CSV")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'flight_tracker <command> -h' for command flags.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "serve":
		err = runServe(os.Args[2:])
	case "ingest":
		err = runIngest(os.Args[2:])
	case "sweep":
		err = runSweep(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "normalize":
		err = runNormalize(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every store-backed command.
type commonFlags struct {
	fs         *flag.FlagSet
	configPath *string
	dbPath     *string
	source     *string
	logLevel   *string
}

func newCommonFlags(name string) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &commonFlags{
		fs:         fs,
		configPath: fs.String("config", envOrDefault("FT_CONFIG", ""), "YAML config file"),
		dbPath:     fs.String("db", "", "SQLite database path (overrides config)"),
		source:     fs.String("source", "", "Upstream source: opensky, faa or mock (overrides config)"),
		logLevel:   fs.String("log-level", "", "Log level (overrides config)"),
	}
}

// load parses args, loads configuration, applies explicitly set flags and
// initialises logging. The returned closer flushes the log file.
func (c *commonFlags) load(args []string, extra func(cfg *config.Config, set map[string]bool)) (*config.Config, io.Closer, error) {
	_ = c.fs.Parse(args)

	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	c.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["db"] {
		cfg.Storage.Backend = config.BackendSQLite
		cfg.Storage.Path = *c.dbPath
	}
	if set["source"] {
		cfg.Source.Type = *c.source
	}
	if set["log-level"] {
		cfg.Log.Level = *c.logLevel
	}
	if extra != nil {
		extra(cfg, set)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	closer, err := logging.Init(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func runServe(args []string) error {
	c := newCommonFlags("serve")
	addr := c.fs.String("addr", "", "HTTP listen address (overrides config)")
	interval := c.fs.Duration("interval", 0, "Ingestion interval (overrides config)")

	cfg, logCloser, err := c.load(args, func(cfg *config.Config, set map[string]bool) {
		if set["addr"] {
			cfg.API.Addr = *addr
		}
		if set["interval"] {
			cfg.Ingest.Interval = *interval
		}
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	opts, sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	p := pipeline.New(fetcher, st, pipelineConfig(cfg), opts...)

	apiCfg := cfg.API
	apiCfg.MaxAge = cfg.Retention.MaxAge
	apiCfg.MaxTrailPoints = cfg.Retention.MaxTrailPoints
	apiOpts := []api.Option{api.WithIngester(p)}
	if sinks.archive != nil {
		apiOpts = append(apiOpts, api.WithHistory(sinks.archive))
	}
	server := api.NewServer(st, apiCfg, apiOpts...)

	log.Info("starting",
		"backend", cfg.Storage.Backend,
		"source", cfg.Source.Type,
		"addr", apiCfg.Addr,
		"archive", sinks.archive != nil,
		"nats", sinks.nats != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func runIngest(args []string) error {
	c := newCommonFlags("ingest")
	cfg, logCloser, err := c.load(args, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	opts, sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	res, err := pipeline.New(fetcher, st, pipelineConfig(cfg), opts...).Tick(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("tick %s: fetched %s, discarded %s, upserted %s, pruned %s flights and %s points in %s\n",
		res.ID,
		humanize.Comma(int64(res.Fetched)),
		humanize.Comma(int64(res.Discarded)),
		humanize.Comma(int64(res.Upserted)),
		humanize.Comma(int64(res.Sweep.PrunedFlights)),
		humanize.Comma(int64(res.Sweep.PrunedPoints)),
		res.Duration.Round(time.Millisecond),
	)
	return nil
}

func runSweep(args []string) error {
	c := newCommonFlags("sweep")
	maxAge := c.fs.Duration("max-age", 0, "Staleness cutoff (overrides config)")
	maxPoints := c.fs.Int("max-points", 0, "Trail points kept per flight (overrides config)")

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

	ctx := context.Background()
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.Sweep(ctx, cfg.Retention.MaxAge, cfg.Retention.MaxTrailPoints)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %s flights and %s trail points\n",
		humanize.Comma(int64(res.PrunedFlights)),
		humanize.Comma(int64(res.PrunedPoints)))
	return nil
}

func runStats(args []string) error {
	c := newCommonFlags("stats")
	cfg, logCloser, err := c.load(args, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx := context.Background()
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	active, err := st.GetAll(ctx, cfg.Retention.MaxAge)
	if err != nil {
		return err
	}

	fmt.Printf("flights:      %s (%s active within %s)\n",
		humanize.Comma(int64(stats.FlightCount)),
		humanize.Comma(int64(len(active))),
		cfg.Retention.MaxAge)
	fmt.Printf("trail points: %s\n", humanize.Comma(int64(stats.TrailPointCount)))
	if cfg.Storage.Backend == config.BackendSQLite {
		if fi, err := os.Stat(cfg.Storage.Path); err == nil {
			fmt.Printf("database:     %s (%s)\n", cfg.Storage.Path, humanize.Bytes(uint64(fi.Size())))
		}
	}
	return nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Interval:       cfg.Ingest.Interval,
		FetchTimeout:   cfg.Ingest.FetchTimeout,
		MaxAge:         cfg.Retention.MaxAge,
		MaxTrailPoints: cfg.Retention.MaxTrailPoints,
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
