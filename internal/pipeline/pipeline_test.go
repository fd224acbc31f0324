package pipeline

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/mock"
	"flight_tracker/internal/normalize"
	"flight_tracker/internal/publish"
	"flight_tracker/internal/source"
	"flight_tracker/internal/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, call int) (source.Batch, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context) (source.Batch, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fetch(ctx, call)
}

func staticFetcher(b source.Batch) *fakeFetcher {
	return &fakeFetcher{fetch: func(context.Context, int) (source.Batch, error) { return b, nil }}
}

type recordingSink struct {
	mu       sync.Mutex
	err      error
	archived [][]flight.Flight
	updates  []publish.Update
}

func (r *recordingSink) ArchivePositions(_ context.Context, flights []flight.Flight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, flights)
	return r.err
}

func (r *recordingSink) Publish(_ context.Context, u publish.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.err
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "flights.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openSkyRecord(id string, lat, lon any) normalize.Raw {
	return normalize.Raw{id, "CS" + id, "US", 1700000000.0, 1700000001.0, lon, lat, 10000.0, false, 250.0, 45.0, 5.0, nil, 10050.0, "1200", false, 0.0}
}

func TestTickNormalizesAndStores(t *testing.T) {
	s := newStore(t)
	batch := source.Batch{
		Source: normalize.SourceOpenSky,
		Records: []normalize.Raw{
			openSkyRecord("a1", 37.5, -122.5),
			openSkyRecord("a2", nil, -122.5), // No position.
			{},
			openSkyRecord("", 37.5, -122.5), // No identifier.
			openSkyRecord("a3", 37.7, -122.1),
		},
	}
	p := New(staticFetcher(batch), s, Config{MaxAge: time.Minute})

	res, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Fetched != 5 || res.Discarded != 3 || res.Upserted != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.ID == "" {
		t.Error("tick has no id")
	}

	f, err := s.GetByID(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Altitude != 32808 || f.Speed != 486 || f.Source != "opensky" {
		t.Errorf("stored flight = %+v", f)
	}
}

func TestTickDiscardsNonFinitePosition(t *testing.T) {
	s := newStore(t)
	batch := source.Batch{
		Source: normalize.SourceOpenSky,
		Records: []normalize.Raw{
			openSkyRecord("good1", 37.5, -122.5),
			openSkyRecord("bad1", "NaN", -122.5),
			openSkyRecord("bad2", 37.5, "Inf"),
			openSkyRecord("good2", 37.7, -122.1),
		},
	}
	p := New(staticFetcher(batch), s, Config{MaxAge: time.Minute})

	// The bad records keep arriving; every tick must still store the good ones.
	for i := 0; i < 2; i++ {
		res, err := p.Tick(context.Background())
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if res.Discarded != 2 || res.Upserted != 2 {
			t.Errorf("tick %d result = %+v, want 2 discarded 2 upserted", i, res)
		}
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FlightCount != 2 || stats.TrailPointCount != 4 {
		t.Errorf("stats = %+v, want 2 flights 4 points", stats)
	}
	if _, err := s.GetByID(context.Background(), "bad1"); err == nil {
		t.Error("non-finite record was stored")
	}
}

func TestTickPassesMockFlightsThrough(t *testing.T) {
	s := newStore(t)
	m := source.NewMock(mock.NewGenerator(mock.Config{Count: 7, Seed: 42}))
	p := New(m, s, Config{})

	for i := 0; i < 3; i++ {
		if _, err := p.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.FlightCount != 7 || stats.TrailPointCount != 21 {
		t.Errorf("stats = %+v, want 7 flights 21 points", stats)
	}
}

func TestTickEnforcesTrailCap(t *testing.T) {
	s := newStore(t)
	f := &fakeFetcher{fetch: func(_ context.Context, call int) (source.Batch, error) {
		return source.Batch{
			Source: mock.Source,
			Flights: []flight.Flight{{
				ID: "CAP", Callsign: "CAP", Latitude: 37, Longitude: -122,
				Timestamp: int64(call) * 1000, Source: mock.Source,
			}},
		}, nil
	}}
	p := New(f, s, Config{MaxTrailPoints: 3})

	for i := 0; i < 6; i++ {
		if _, err := p.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	trail, err := s.GetTrail(context.Background(), "CAP", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 3 || trail[0].Timestamp != 4000 || trail[2].Timestamp != 6000 {
		t.Errorf("trail = %+v", trail)
	}
}

func TestTickFailuresLeaveStateIntact(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.UpsertOne(ctx, flight.Flight{ID: "KEEP", Callsign: "KEEP", Latitude: 1, Longitude: 2, Timestamp: 1, Source: "faa"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		fetcher *fakeFetcher
		check   func(t *testing.T, err error)
	}{
		{
			name: "fetch error",
			fetcher: &fakeFetcher{fetch: func(context.Context, int) (source.Batch, error) {
				return source.Batch{}, &source.FetchError{URL: "http://upstream", Status: http.StatusTooManyRequests, Err: errors.New("slow down")}
			}},
			check: func(t *testing.T, err error) {
				var fe *source.FetchError
				if !errors.As(err, &fe) || !fe.Retryable() {
					t.Errorf("err = %v, want retryable FetchError", err)
				}
			},
		},
		{
			name: "unsupported source",
			fetcher: staticFetcher(source.Batch{
				Source:  "adsbx",
				Records: []normalize.Raw{openSkyRecord("x1", 1.0, 2.0)},
			}),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, normalize.ErrUnsupportedSource) {
					t.Errorf("err = %v, want ErrUnsupportedSource", err)
				}
			},
		},
		{
			name: "storage error",
			fetcher: staticFetcher(source.Batch{
				Source: mock.Source,
				Flights: []flight.Flight{
					{ID: "NEW", Latitude: 1, Longitude: 1, Timestamp: 1},
					{ID: "", Latitude: 1, Longitude: 1, Timestamp: 1},
				},
			}),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, store.ErrStorage) {
					t.Errorf("err = %v, want ErrStorage", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.fetcher, s, Config{})
			_, err := p.Tick(ctx)
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)

			stats, _ := s.Stats(ctx)
			if stats.FlightCount != 1 || stats.TrailPointCount != 1 {
				t.Errorf("stats = %+v, want untouched 1/1", stats)
			}
		})
	}
}

func TestTickRejectsOverlap(t *testing.T) {
	s := newStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{fetch: func(_ context.Context, call int) (source.Batch, error) {
		if call == 1 {
			close(started)
			<-release
		}
		return source.Batch{Source: mock.Source}, nil
	}}
	p := New(f, s, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := p.Tick(context.Background())
		done <- err
	}()

	<-started
	if _, err := p.Tick(context.Background()); !errors.Is(err, ErrTickInFlight) {
		t.Errorf("overlapping tick err = %v, want ErrTickInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// The guard is released once the first tick finishes.
	if _, err := p.Tick(context.Background()); err != nil {
		t.Errorf("tick after release: %v", err)
	}
}

func TestTickFetchTimeout(t *testing.T) {
	s := newStore(t)
	f := &fakeFetcher{fetch: func(ctx context.Context, _ int) (source.Batch, error) {
		<-ctx.Done()
		return source.Batch{}, ctx.Err()
	}}
	p := New(f, s, Config{FetchTimeout: 10 * time.Millisecond})

	if _, err := p.Tick(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestSinkFailuresDoNotFailTick(t *testing.T) {
	s := newStore(t)
	sink := &recordingSink{err: errors.New("sink down")}
	batch := source.Batch{Source: normalize.SourceOpenSky, Records: []normalize.Raw{openSkyRecord("s1", 10.0, 20.0)}}
	p := New(staticFetcher(batch), s, Config{}, WithArchive(sink), WithPublisher(sink))

	res, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.SinkErrors != 2 || res.Upserted != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(sink.archived) != 1 || len(sink.updates) != 1 {
		t.Fatalf("archived %d, published %d", len(sink.archived), len(sink.updates))
	}
	if sink.updates[0].TickID != res.ID || sink.updates[0].Flights[0].ID != "s1" {
		t.Errorf("update = %+v", sink.updates[0])
	}
}

func TestSinksSkippedForEmptyTick(t *testing.T) {
	s := newStore(t)
	sink := &recordingSink{}
	p := New(staticFetcher(source.Batch{Source: mock.Source}), s, Config{}, WithArchive(sink), WithPublisher(sink))

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.archived) != 0 || len(sink.updates) != 0 {
		t.Error("sinks called for empty tick")
	}
}

func TestRunContinuesAfterFailures(t *testing.T) {
	s := newStore(t)
	var calls atomic.Int32
	f := &fakeFetcher{fetch: func(_ context.Context, call int) (source.Batch, error) {
		calls.Add(1)
		if call%2 == 1 {
			return source.Batch{}, &source.FetchError{URL: "http://upstream", Err: errors.New("connection refused")}
		}
		return source.Batch{
			Source:  mock.Source,
			Flights: []flight.Flight{{ID: "RUN", Callsign: "RUN", Latitude: 1, Longitude: 1, Timestamp: int64(call)}},
		}, nil
	}}
	p := New(f, s, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks ran", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if _, err := s.GetByID(context.Background(), "RUN"); err != nil {
		t.Errorf("successful ticks did not store: %v", err)
	}
}
