package main

import (
	"context"
	"errors"
	"fmt"

	"flight_tracker/internal/api"
	"flight_tracker/internal/config"
	"flight_tracker/internal/mock"
	"flight_tracker/internal/normalize"
	"flight_tracker/internal/pipeline"
	"flight_tracker/internal/publish"
	"flight_tracker/internal/source"
	"flight_tracker/internal/store"
)

// backend is everything the commands need from a flight store.
type backend interface {
	pipeline.Store
	api.Store
	Close() error
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*store.Postgres)(nil)
)

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pg, err := store.OpenPostgres(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendSQLite:
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func newFetcher(cfg *config.Config) (source.Fetcher, error) {
	if cfg.Source.Type == mock.Source {
		gen := mock.NewGenerator(mock.Config{
			Count:  cfg.Source.MockCount,
			Bounds: cfg.Source.Bounds.Bound(),
			Seed:   cfg.Source.MockSeed,
		})
		return source.NewMock(gen), nil
	}

	return source.NewHTTP(source.HTTPConfig{
		URL:      cfg.Source.URL,
		Source:   normalize.Source(cfg.Source.Type),
		Timeout:  cfg.Source.Timeout,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Bounds:   cfg.Source.Bounds.Bound(),
	})
}

// sinkSet holds the optional archive and publisher connections.
type sinkSet struct {
	archive *store.Archive
	nats    *publish.NATS
}

func (s *sinkSet) Close() error {
	var errs []error
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	if s.nats != nil {
		errs = append(errs, s.nats.Close())
	}
	return errors.Join(errs...)
}

// openSinks connects the sinks enabled in cfg. A configured sink that cannot
// connect fails startup.
func openSinks(ctx context.Context, cfg *config.Config) ([]pipeline.Option, *sinkSet, error) {
	sinks := &sinkSet{}
	var opts []pipeline.Option

	if cfg.Archive.Enabled() {
		a, err := store.OpenArchive(ctx, cfg.Archive)
		if err != nil {
			return nil, nil, err
		}
		sinks.archive = a
		opts = append(opts, pipeline.WithArchive(a))
	}

	if cfg.NATS.Enabled() {
		n, err := publish.Connect(cfg.NATS)
		if err != nil {
			_ = sinks.Close()
			return nil, nil, err
		}
		sinks.nats = n
		opts = append(opts, pipeline.WithPublisher(n))
	}

	return opts, sinks, nil
}
