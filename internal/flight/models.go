// Package flight defines the canonical aircraft state records shared by the
// normaliser, the stores and the API.
package flight

import "time"

// DefaultMaxTrailPoints is the number of trail points retained per flight
// when no other limit is configured.
const DefaultMaxTrailPoints = 256

// Flight is the current known state of one tracked aircraft.
type Flight struct {
	ID           string  `json:"id"` // Primary key: ICAO 24-bit hex or equivalent.
	Callsign     string  `json:"callsign"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Altitude     int     `json:"altitude"`      // Feet.
	Heading      float64 `json:"heading"`       // Degrees, [0,360).
	Speed        int     `json:"speed"`         // Knots.
	VerticalRate int     `json:"vertical_rate"` // Feet per minute.
	OnGround     bool    `json:"on_ground"`
	Squawk       string  `json:"squawk,omitempty"`
	Timestamp    int64   `json:"timestamp"` // Upstream report time, epoch ms.
	Source       string  `json:"source"`
	UpdatedAt    int64   `json:"updated_at"` // Local upsert time, epoch ms.
}

// TrailPoint is one historical position sample of a flight.
type TrailPoint struct {
	FlightID  string  `json:"flight_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  int     `json:"altitude"`
	Timestamp int64   `json:"timestamp"`
}

// Point returns the trail point recorded for this flight state.
func (f *Flight) Point() TrailPoint {
	return TrailPoint{
		FlightID:  f.ID,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  f.Altitude,
		Timestamp: f.Timestamp,
	}
}

// ReportTime returns the upstream report time.
func (f *Flight) ReportTime() time.Time {
	return time.UnixMilli(f.Timestamp)
}

// Stats holds raw row counts, ignoring staleness.
type Stats struct {
	FlightCount     int `json:"flight_count"`
	TrailPointCount int `json:"trail_point_count"`
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	PrunedFlights int `json:"pruned_flights"`
	PrunedPoints  int `json:"pruned_points"`
}
