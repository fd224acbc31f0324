package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flight_tracker/internal/flight"
)

// fakeClock is a settable time source for staleness tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "flights.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func withClock(s *Store) *fakeClock {
	c := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.now = c.Now
	return c
}

func testFlight(id string, ts int64) flight.Flight {
	return flight.Flight{
		ID:           id,
		Callsign:     "CS" + id,
		Latitude:     37.5,
		Longitude:    -122.5,
		Altitude:     35000,
		Heading:      90,
		Speed:        450,
		VerticalRate: 0,
		Squawk:       "1200",
		Timestamp:    ts,
		Source:       "opensky",
	}
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.UpsertOne(context.Background(), testFlight("M1", 1)); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FlightCount != 1 || stats.TrailPointCount != 1 {
		t.Errorf("stats = %+v, want 1/1", stats)
	}
}

func TestOpenIdempotentSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flights.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s.UpsertOne(ctx, testFlight("P1", 1)); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s.Close()

	if _, err := s.GetByID(ctx, "P1"); err != nil {
		t.Errorf("flight lost across reopen: %v", err)
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := testFlight("abc123", 1700000000000)
	in.OnGround = true
	in.VerticalRate = -640
	in.Heading = 271.5

	before := time.Now().UnixMilli()
	if err := s.UpsertOne(ctx, in); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}

	got, err := s.GetByID(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UpdatedAt < before {
		t.Errorf("UpdatedAt = %d, want >= %d", got.UpdatedAt, before)
	}

	got.UpdatedAt = 0
	if *got != in {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", *got, in)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertExtendsTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		f := testFlight("T1", 1000*i)
		f.Altitude = 35000 + int(i)
		f.Latitude = 37.5 + float64(i)/10
		if err := s.UpsertOne(ctx, f); err != nil {
			t.Fatalf("UpsertOne %d: %v", i, err)
		}
	}

	trail, err := s.GetTrail(ctx, "T1", 10)
	if err != nil {
		t.Fatalf("GetTrail: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail length = %d, want 3", len(trail))
	}
	for i, p := range trail {
		if p.Timestamp != int64(1000*(i+1)) {
			t.Errorf("trail[%d].Timestamp = %d, want %d", i, p.Timestamp, 1000*(i+1))
		}
	}

	all, err := s.GetAll(ctx, time.Hour)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetAll returned %d flights, want 1", len(all))
	}
	if all[0].ID != "T1" || all[0].Timestamp != 3000 || all[0].Altitude != 35003 {
		t.Errorf("GetAll = %+v, want latest values", all[0])
	}
}

func TestUpsertBatchEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertBatch(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("UpsertBatch(nil) = %d, %v", n, err)
	}
	n, err = s.UpsertBatch(ctx, []flight.Flight{})
	if err != nil || n != 0 {
		t.Fatalf("UpsertBatch([]) = %d, %v", n, err)
	}

	stats, _ := s.Stats(ctx)
	if stats != (flight.Stats{}) {
		t.Errorf("stats = %+v, want empty", stats)
	}
}

func TestUpsertBatchAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertOne(ctx, testFlight("EXIST", 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The empty identifier violates the schema partway through the batch.
	batch := []flight.Flight{
		testFlight("B1", 10),
		testFlight("EXIST", 20),
		testFlight("", 30),
		testFlight("B2", 40),
	}
	n, err := s.UpsertBatch(ctx, batch)
	if err == nil {
		t.Fatal("expected error from faulty batch")
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}

	for _, id := range []string{"B1", "B2"} {
		if _, err := s.GetByID(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s visible after rolled back batch: %v", id, err)
		}
	}
	existing, err := s.GetByID(ctx, "EXIST")
	if err != nil {
		t.Fatalf("GetByID(EXIST): %v", err)
	}
	if existing.Timestamp != 1 {
		t.Errorf("EXIST.Timestamp = %d, want untouched 1", existing.Timestamp)
	}

	stats, _ := s.Stats(ctx)
	if stats.FlightCount != 1 || stats.TrailPointCount != 1 {
		t.Errorf("stats = %+v, want 1/1", stats)
	}
}

func TestStalenessIsReadTimeFilter(t *testing.T) {
	s := newTestStore(t)
	clock := withClock(s)
	ctx := context.Background()

	if err := s.UpsertOne(ctx, testFlight("OLD", 100)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	if err := s.UpsertOne(ctx, testFlight("NEW", 200)); err != nil {
		t.Fatal(err)
	}

	fresh, err := s.GetAll(ctx, time.Minute)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID != "NEW" {
		t.Errorf("GetAll(1m) = %+v, want only NEW", fresh)
	}

	// Stale rows are hidden from reads but still physically present.
	stats, _ := s.Stats(ctx)
	if stats.FlightCount != 2 {
		t.Errorf("FlightCount = %d, want 2", stats.FlightCount)
	}
	if _, err := s.GetByID(ctx, "OLD"); err != nil {
		t.Errorf("GetByID(OLD) = %v, want still present before sweep", err)
	}
}

func TestGetSince(t *testing.T) {
	s := newTestStore(t)
	clock := withClock(s)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []flight.Flight{
		testFlight("A", 1000),
		testFlight("B", 2000),
		testFlight("C", 3000),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSince(ctx, 1500, time.Minute)
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	ids := flightIDs(got)
	if fmt.Sprint(ids) != "[B C]" {
		t.Errorf("GetSince(1500) = %v, want [B C]", ids)
	}

	got, _ = s.GetSince(ctx, 3000, time.Minute)
	if len(got) != 0 {
		t.Errorf("GetSince(3000) = %v, want none", flightIDs(got))
	}

	clock.Advance(2 * time.Minute)
	got, _ = s.GetSince(ctx, 0, time.Minute)
	if len(got) != 0 {
		t.Errorf("GetSince on stale store = %v, want none", flightIDs(got))
	}
}

func TestGetAllTrails(t *testing.T) {
	s := newTestStore(t)
	clock := withClock(s)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := s.UpsertOne(ctx, testFlight("X", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertOne(ctx, testFlight("STALE", 1)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	for i := int64(10); i <= 11; i++ {
		if err := s.UpsertOne(ctx, testFlight("Y", i)); err != nil {
			t.Fatal(err)
		}
	}
	// Refresh X without letting its history go stale.
	if err := s.UpsertOne(ctx, testFlight("X", 6)); err != nil {
		t.Fatal(err)
	}

	trails, err := s.GetAllTrails(ctx, time.Minute, 3)
	if err != nil {
		t.Fatalf("GetAllTrails: %v", err)
	}
	if _, ok := trails["STALE"]; ok {
		t.Error("stale flight included in trails")
	}
	if len(trails) != 2 {
		t.Fatalf("got %d trails, want 2", len(trails))
	}

	x := trails["X"]
	if len(x) != 3 {
		t.Fatalf("len(X) = %d, want 3", len(x))
	}
	for i, want := range []int64{4, 5, 6} {
		if x[i].Timestamp != want {
			t.Errorf("X[%d].Timestamp = %d, want %d", i, x[i].Timestamp, want)
		}
	}
	if len(trails["Y"]) != 2 {
		t.Errorf("len(Y) = %d, want 2", len(trails["Y"]))
	}
}

func TestGetAllTrailsOmitsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertOne(ctx, testFlight("E", 1)); err != nil {
		t.Fatal(err)
	}
	// Simulate partial data loss of the flight's history.
	if _, err := s.db.Exec(`DELETE FROM trail_points WHERE flight_id = 'E'`); err != nil {
		t.Fatal(err)
	}

	trails, err := s.GetAllTrails(ctx, time.Hour, 10)
	if err != nil {
		t.Fatalf("GetAllTrails: %v", err)
	}
	if _, ok := trails["E"]; ok {
		t.Errorf("flight without points present in map: %v", trails)
	}
}

func TestAppendPoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertOne(ctx, testFlight("AP", 10)); err != nil {
		t.Fatal(err)
	}
	// Out-of-order timestamps still read back chronologically.
	if err := s.AppendPoint(ctx, flight.TrailPoint{FlightID: "AP", Latitude: 1, Longitude: 2, Altitude: 3, Timestamp: 5}); err != nil {
		t.Fatalf("AppendPoint: %v", err)
	}

	trail, err := s.GetTrail(ctx, "AP", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 || trail[0].Timestamp != 5 || trail[1].Timestamp != 10 {
		t.Errorf("trail = %+v, want timestamps [5 10]", trail)
	}

	err = s.AppendPoint(ctx, flight.TrailPoint{FlightID: "nobody", Timestamp: 1})
	if !errors.Is(err, ErrStorage) {
		t.Errorf("AppendPoint for unknown flight err = %v, want ErrStorage", err)
	}
}

func TestGetTrailLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		if err := s.UpsertOne(ctx, testFlight("L", i)); err != nil {
			t.Fatal(err)
		}
	}

	trail, err := s.GetTrail(ctx, "L", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 4 {
		t.Fatalf("len = %d, want 4", len(trail))
	}
	if trail[0].Timestamp != 7 || trail[3].Timestamp != 10 {
		t.Errorf("trail = %+v, want most recent 7..10", trail)
	}

	none, err := s.GetTrail(ctx, "unknown", 4)
	if err != nil || len(none) != 0 {
		t.Errorf("GetTrail(unknown) = %v, %v", none, err)
	}
}

func flightIDs(flights []flight.Flight) []string {
	ids := make([]string, len(flights))
	for i, f := range flights {
		ids[i] = f.ID
	}
	return ids
}
