// Package pipeline runs ingestion ticks: fetch, normalise, batch upsert,
// retention sweep, then the optional archive and publish sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/logging"
	"flight_tracker/internal/normalize"
	"flight_tracker/internal/publish"
	"flight_tracker/internal/source"
)

// ErrTickInFlight is returned when a tick is requested while another is
// still running.
var ErrTickInFlight = errors.New("ingestion tick already in flight")

// Store is the storage the pipeline writes to.
type Store interface {
	UpsertBatch(ctx context.Context, flights []flight.Flight) (int, error)
	Sweep(ctx context.Context, maxAge time.Duration, maxTrailPoints int) (flight.SweepResult, error)
}

// Archiver receives every upserted flight for long-term history.
type Archiver interface {
	ArchivePositions(ctx context.Context, flights []flight.Flight) error
}

// Publisher broadcasts each tick's upserted flights.
type Publisher interface {
	Publish(ctx context.Context, u publish.Update) error
}

// Config controls tick timing and retention.
type Config struct {
	Interval       time.Duration
	FetchTimeout   time.Duration
	MaxAge         time.Duration
	MaxTrailPoints int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Second,
		FetchTimeout:   8 * time.Second,
		MaxAge:         5 * time.Minute,
		MaxTrailPoints: flight.DefaultMaxTrailPoints,
	}
}

// TickResult reports what one tick did.
type TickResult struct {
	ID         string             `json:"id"`
	Fetched    int                `json:"fetched"`
	Discarded  int                `json:"discarded"`
	Upserted   int                `json:"upserted"`
	Sweep      flight.SweepResult `json:"sweep"`
	Duration   time.Duration      `json:"duration_ns"`
	SinkErrors int                `json:"sink_errors"`
}

// Pipeline owns the fetch source and the store for the lifetime of the
// ingestion loop.
type Pipeline struct {
	fetcher   source.Fetcher
	store     Store
	archive   Archiver
	publisher Publisher
	cfg       Config
	log       *slog.Logger

	running atomic.Bool
	now     func() time.Time
}

// Option configures optional sinks.
type Option func(*Pipeline)

// WithArchive sends upserted flights to a.
func WithArchive(a Archiver) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithPublisher publishes upserted flights through pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// New creates a pipeline. Zero fields in cfg take DefaultConfig values.
func New(f source.Fetcher, s Store, cfg Config, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MaxTrailPoints <= 0 {
		cfg.MaxTrailPoints = def.MaxTrailPoints
	}

	p := &Pipeline{
		fetcher: f,
		store:   s,
		cfg:     cfg,
		log:     logging.Component("pipeline"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick runs one ingestion pass. A failed fetch, an unsupported source or a
// failed upsert leaves stored state untouched and is returned; sink
// failures are logged and counted only.
func (p *Pipeline) Tick(ctx context.Context) (TickResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return TickResult{}, ErrTickInFlight
	}
	defer p.running.Store(false)

	start := p.now()
	res := TickResult{ID: uuid.NewString()}
	ctx = logging.ContextWithTickID(ctx, res.ID)
	log := logging.FromContext(ctx, p.log)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	batch, err := p.fetcher.Fetch(fetchCtx)
	cancel()
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.Fetched = batch.Len()

	flights, discarded, err := normalizeBatch(batch, start)
	if err != nil {
		return res, err
	}
	res.Discarded = discarded

	n, err := p.store.UpsertBatch(ctx, flights)
	if err != nil {
		return res, fmt.Errorf("upsert: %w", err)
	}
	res.Upserted = n

	sweep, err := p.store.Sweep(ctx, p.cfg.MaxAge, p.cfg.MaxTrailPoints)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}
	res.Sweep = sweep

	res.SinkErrors = p.sink(ctx, log, res.ID, flights)
	res.Duration = p.now().Sub(start)

	log.Debug("tick complete",
		"fetched", res.Fetched,
		"discarded", res.Discarded,
		"upserted", res.Upserted,
		"pruned_flights", res.Sweep.PrunedFlights,
		"pruned_points", res.Sweep.PrunedPoints,
		"duration", res.Duration,
	)
	return res, nil
}

// normalizeBatch converts raw records and appends pre-normalised flights.
// Malformed records are counted and skipped; an unsupported source fails
// the whole batch.
func normalizeBatch(b source.Batch, now time.Time) ([]flight.Flight, int, error) {
	flights := make([]flight.Flight, 0, b.Len())
	discarded := 0
	for _, raw := range b.Records {
		f, err := normalize.NormalizeAt(raw, b.Source, now)
		if err != nil {
			return nil, 0, fmt.Errorf("normalize: %w", err)
		}
		if f == nil {
			discarded++
			continue
		}
		flights = append(flights, *f)
	}
	flights = append(flights, b.Flights...)
	return flights, discarded, nil
}

func (p *Pipeline) sink(ctx context.Context, log *slog.Logger, tickID string, flights []flight.Flight) int {
	if len(flights) == 0 {
		return 0
	}

	failures := 0
	if p.archive != nil {
		if err := p.archive.ArchivePositions(ctx, flights); err != nil {
			failures++
			log.Warn("archive failed", "error", err, "flights", len(flights))
		}
	}
	if p.publisher != nil {
		u := publish.Update{TickID: tickID, Time: p.now().UnixMilli(), Flights: flights}
		if err := p.publisher.Publish(ctx, u); err != nil {
			failures++
			log.Warn("publish failed", "error", err, "flights", len(flights))
		}
	}
	return failures
}

// Run ticks immediately and then every Interval until ctx is cancelled.
// Tick failures are logged and the next tick proceeds as scheduled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("ingestion started",
		"interval", p.cfg.Interval,
		"max_age", p.cfg.MaxAge,
		"max_trail_points", p.cfg.MaxTrailPoints,
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.runTick(ctx)

		select {
		case <-ctx.Done():
			p.log.Info("ingestion stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) runTick(ctx context.Context) {
	res, err := p.Tick(ctx)
	switch {
	case err == nil:
		p.log.Info("tick",
			"tick_id", res.ID,
			"upserted", res.Upserted,
			"discarded", res.Discarded,
			"pruned_flights", res.Sweep.PrunedFlights,
			"pruned_points", res.Sweep.PrunedPoints,
		)
	case errors.Is(err, ErrTickInFlight):
		p.log.Warn("previous tick still running, skipping")
	case ctx.Err() != nil:
		// Shutting down.
	default:
		attrs := []any{"tick_id", res.ID, "error", err}
		var fe *source.FetchError
		if errors.As(err, &fe) {
			attrs = append(attrs, "status", fe.Status, "retryable", fe.Retryable())
		}
		p.log.Error("tick failed", attrs...)
	}
}
