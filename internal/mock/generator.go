// Package mock generates synthetic flights for running without a live
// upstream.
package mock

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/normalize"
)

// Source is the tag stamped on synthetic flights.
const Source = "mock"

const (
	knotsToMps  = 0.514444
	minAltitude = 1000.0
	maxAltitude = 41000.0
)

// DefaultBounds covers the San Francisco Bay Area.
var DefaultBounds = orb.Bound{
	Min: orb.Point{-123.5, 36.5},
	Max: orb.Point{-121.0, 38.5},
}

var airlines = []string{"UAL", "SWA", "DAL", "AAL", "ASA", "JBU", "SKW"}

// Config controls the synthetic fleet.
type Config struct {
	Count  int
	Bounds orb.Bound
	Seed   uint64
}

// Track is the kinematic state of one simulated aircraft.
type Track struct {
	ID           string
	Callsign     string
	Position     orb.Point // Lon, lat.
	Altitude     float64   // Feet.
	Heading      float64   // Degrees.
	Speed        float64   // Knots.
	VerticalRate float64   // Feet per minute.
	Squawk       string
}

// Generator owns a fleet of tracks and advances them on each call.
type Generator struct {
	mu     sync.Mutex
	bounds orb.Bound
	tracks []Track
	last   time.Time
}

// NewGenerator creates a generator with cfg.Count tracks placed uniformly
// inside cfg.Bounds. The same seed always produces the same fleet.
func NewGenerator(cfg Config) *Generator {
	if cfg.Count <= 0 {
		cfg.Count = 50
	}
	if cfg.Bounds.IsZero() {
		cfg.Bounds = DefaultBounds
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	tracks := make([]Track, cfg.Count)
	for i := range tracks {
		tracks[i] = randomTrack(rng, i, cfg.Bounds)
	}

	return &Generator{bounds: cfg.Bounds, tracks: tracks}
}

func randomTrack(rng *rand.Rand, i int, b orb.Bound) Track {
	lon := b.Min.Lon() + rng.Float64()*(b.Max.Lon()-b.Min.Lon())
	lat := b.Min.Lat() + rng.Float64()*(b.Max.Lat()-b.Min.Lat())

	vr := 0.0
	switch rng.IntN(3) {
	case 0:
		vr = 500 + rng.Float64()*1500
	case 1:
		vr = -(500 + rng.Float64()*1500)
	}

	return Track{
		ID:           fmt.Sprintf("%06x", 0xa00000+i),
		Callsign:     fmt.Sprintf("%s%d", airlines[rng.IntN(len(airlines))], 100+rng.IntN(9000)),
		Position:     orb.Point{lon, lat},
		Altitude:     minAltitude + rng.Float64()*(maxAltitude-minAltitude),
		Heading:      rng.Float64() * 360,
		Speed:        180 + rng.Float64()*320,
		VerticalRate: vr,
		Squawk:       fmt.Sprintf("%04o", rng.IntN(0o7777)),
	}
}

// Advance moves every track by the time elapsed since the previous call and
// returns a snapshot of the fleet. The first call returns the initial
// positions unchanged.
func (g *Generator) Advance(now time.Time) []flight.Flight {
	g.mu.Lock()
	defer g.mu.Unlock()

	var dt time.Duration
	if !g.last.IsZero() && now.After(g.last) {
		dt = now.Sub(g.last)
	}
	g.last = now

	out := make([]flight.Flight, len(g.tracks))
	for i := range g.tracks {
		if dt > 0 {
			g.tracks[i] = Step(g.tracks[i], dt, g.bounds)
		}
		out[i] = g.tracks[i].Flight(now)
	}
	return out
}

// Tracks returns a copy of the current fleet.
func (g *Generator) Tracks() []Track {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Track(nil), g.tracks...)
}

// Flight renders the track as a canonical flight reported at now.
func (t Track) Flight(now time.Time) flight.Flight {
	return flight.Flight{
		ID:           t.ID,
		Callsign:     t.Callsign,
		Latitude:     t.Position.Lat(),
		Longitude:    t.Position.Lon(),
		Altitude:     int(math.Round(t.Altitude)),
		Heading:      normalize.NormaliseHeading(t.Heading),
		Speed:        int(math.Round(t.Speed)),
		VerticalRate: int(math.Round(t.VerticalRate)),
		OnGround:     false,
		Squawk:       t.Squawk,
		Timestamp:    now.UnixMilli(),
		Source:       Source,
	}
}

// Step advances a track by dt along its heading at its speed. A track that
// would leave bounds has its heading reflected off the crossed edge and its
// position clamped inside. Altitude follows the vertical rate, reversing at
// the altitude limits.
func Step(t Track, dt time.Duration, bounds orb.Bound) Track {
	dist := t.Speed * knotsToMps * dt.Seconds()
	next := geo.PointAtBearingAndDistance(t.Position, t.Heading, dist)

	heading := t.Heading
	if next.Lon() < bounds.Min.Lon() || next.Lon() > bounds.Max.Lon() {
		heading = 360 - heading
		next[0] = clamp(next.Lon(), bounds.Min.Lon(), bounds.Max.Lon())
	}
	if next.Lat() < bounds.Min.Lat() || next.Lat() > bounds.Max.Lat() {
		heading = 180 - heading
		next[1] = clamp(next.Lat(), bounds.Min.Lat(), bounds.Max.Lat())
	}
	t.Heading = normalize.NormaliseHeading(heading)
	t.Position = next

	t.Altitude += t.VerticalRate * dt.Minutes()
	if t.Altitude > maxAltitude {
		t.Altitude = maxAltitude
		t.VerticalRate = -t.VerticalRate
	} else if t.Altitude < minAltitude {
		t.Altitude = minAltitude
		t.VerticalRate = -t.VerticalRate
	}

	return t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
