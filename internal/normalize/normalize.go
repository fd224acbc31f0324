// Package normalize converts raw upstream state vectors into canonical
// flight records.
//
// Each upstream format is handled by a source adapter. The set of adapters
// is closed: a record tagged with an unregistered source is a configuration
// error, not a data error, and is reported as *UnsupportedSourceError.
// Malformed records (no identifier, no position) are not errors; they are
// rejected by returning a nil flight.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"flight_tracker/internal/flight"
)

// Unit conversion factors for metric upstreams.
const (
	MetersToFeet     = 3.28084
	MpsToKnots       = 1.944
	MpsToFeetPerMin  = 196.85
	secondsToMillis  = 1000
	fullCircleDegree = 360.0
)

// Raw is one upstream record as decoded from JSON: a positional array whose
// first element is the aircraft identifier.
type Raw []any

// Source identifies a source adapter.
type Source string

// Registered source adapters.
const (
	SourceOpenSky Source = "opensky"
	SourceFAA     Source = "faa"
)

// ErrUnsupportedSource matches any *UnsupportedSourceError.
var ErrUnsupportedSource = errors.New("unsupported source")

// UnsupportedSourceError reports a source tag with no registered adapter.
type UnsupportedSourceError struct {
	Source Source
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unsupported source %q", string(e.Source))
}

// Is lets errors.Is match ErrUnsupportedSource.
func (e *UnsupportedSourceError) Is(target error) bool {
	return target == ErrUnsupportedSource
}

// adapter converts one raw record. It returns nil for malformed input.
type adapter func(raw Raw, now time.Time) *flight.Flight

var adapters = map[Source]adapter{
	SourceOpenSky: fromOpenSky,
	SourceFAA:     fromFAA,
}

// Normalize converts raw into a flight using the adapter registered for src.
// A nil flight with a nil error means the record was malformed and should be
// skipped.
func Normalize(raw Raw, src Source) (*flight.Flight, error) {
	return NormalizeAt(raw, src, time.Now())
}

// NormalizeAt is Normalize with an explicit ingestion time, used when the
// upstream record carries no report time.
func NormalizeAt(raw Raw, src Source, now time.Time) (*flight.Flight, error) {
	fn, ok := adapters[src]
	if !ok {
		return nil, &UnsupportedSourceError{Source: src}
	}
	if len(raw) == 0 || !truthy(raw[0]) {
		return nil, nil
	}
	return fn(raw, now), nil
}

// ParseSource validates a source tag read from configuration.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := adapters[src]; !ok {
		return "", &UnsupportedSourceError{Source: src}
	}
	return src, nil
}

// Sources returns the registered source tags in sorted order.
func Sources() []Source {
	out := make([]Source, 0, len(adapters))
	for s := range adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OpenSky state vector layout (https://openskynetwork.github.io/opensky-api/rest.html).
const (
	oskICAO24 = iota
	oskCallsign
	oskOriginCountry
	oskTimePosition
	oskLastContact
	oskLongitude
	oskLatitude
	oskBaroAltitude
	oskOnGround
	oskVelocity
	oskTrueTrack
	oskVerticalRate
	oskSensors
	oskGeoAltitude
	oskSquawk
)

// fromOpenSky handles OpenSky state vectors. Units are metric and seconds.
func fromOpenSky(raw Raw, now time.Time) *flight.Flight {
	lat, okLat := floatAt(raw, oskLatitude)
	lon, okLon := floatAt(raw, oskLongitude)
	if !okLat || !okLon {
		return nil
	}

	id := strings.TrimSpace(stringAt(raw, oskICAO24))

	// Barometric altitude is null on the ground and for some transponders.
	var alt int
	if m, ok := floatAt(raw, oskBaroAltitude); ok {
		alt = round(m * MetersToFeet)
	} else if m, ok := floatAt(raw, oskGeoAltitude); ok {
		alt = round(m * MetersToFeet)
	}

	var speed, vrate int
	if v, ok := floatAt(raw, oskVelocity); ok {
		speed = round(v * MpsToKnots)
	}
	if v, ok := floatAt(raw, oskVerticalRate); ok {
		vrate = round(v * MpsToFeetPerMin)
	}

	var heading float64
	if h, ok := floatAt(raw, oskTrueTrack); ok {
		heading = NormaliseHeading(h)
	}

	ts := now.UnixMilli()
	if s, ok := floatAt(raw, oskLastContact); ok && s > 0 {
		ts = int64(s * secondsToMillis)
	} else if s, ok := floatAt(raw, oskTimePosition); ok && s > 0 {
		ts = int64(s * secondsToMillis)
	}

	return &flight.Flight{
		ID:           id,
		Callsign:     callsign(stringAt(raw, oskCallsign), id),
		Latitude:     lat,
		Longitude:    lon,
		Altitude:     alt,
		Heading:      heading,
		Speed:        speed,
		VerticalRate: vrate,
		OnGround:     boolAt(raw, oskOnGround),
		Squawk:       strings.TrimSpace(stringAt(raw, oskSquawk)),
		Timestamp:    ts,
		Source:       string(SourceOpenSky),
	}
}

// FAA-style record layout. Values are already in feet, knots, feet per
// minute and epoch milliseconds.
const (
	faaID = iota
	faaCallsign
	faaLatitude
	faaLongitude
	faaAltitude
	faaGeoAltitude
	faaHeading
	faaSpeed
	faaVerticalRate
	faaOnGround
	faaSquawk
	faaTimestamp
)

// fromFAA handles records whose units already match the canonical schema;
// values are rounded but not converted.
func fromFAA(raw Raw, now time.Time) *flight.Flight {
	lat, okLat := floatAt(raw, faaLatitude)
	lon, okLon := floatAt(raw, faaLongitude)
	if !okLat || !okLon {
		return nil
	}

	id := strings.TrimSpace(stringAt(raw, faaID))

	var alt int
	if ft, ok := floatAt(raw, faaAltitude); ok {
		alt = round(ft)
	} else if ft, ok := floatAt(raw, faaGeoAltitude); ok {
		alt = round(ft)
	}

	var heading float64
	if h, ok := floatAt(raw, faaHeading); ok {
		heading = NormaliseHeading(h)
	}

	var speed, vrate int
	if v, ok := floatAt(raw, faaSpeed); ok {
		speed = round(v)
	}
	if v, ok := floatAt(raw, faaVerticalRate); ok {
		vrate = round(v)
	}

	ts := now.UnixMilli()
	if ms, ok := floatAt(raw, faaTimestamp); ok && ms > 0 {
		ts = int64(ms)
	}

	return &flight.Flight{
		ID:           id,
		Callsign:     callsign(stringAt(raw, faaCallsign), id),
		Latitude:     lat,
		Longitude:    lon,
		Altitude:     alt,
		Heading:      heading,
		Speed:        speed,
		VerticalRate: vrate,
		OnGround:     boolAt(raw, faaOnGround),
		Squawk:       strings.TrimSpace(stringAt(raw, faaSquawk)),
		Timestamp:    ts,
		Source:       string(SourceFAA),
	}
}

// NormaliseHeading maps any angle into [0,360).
func NormaliseHeading(h float64) float64 {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0
	}
	h = math.Mod(h, fullCircleDegree)
	if h < 0 {
		h += fullCircleDegree
	}
	// Tiny negative angles round up to a full circle.
	if h >= fullCircleDegree {
		return 0
	}
	return h
}

func callsign(cs, id string) string {
	cs = strings.TrimSpace(cs)
	if cs == "" {
		return id
	}
	return cs
}

func round(v float64) int {
	return int(math.Round(v))
}
