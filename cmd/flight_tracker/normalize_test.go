package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"flight_tracker/internal/normalize"
)

func TestNormalizeStream(t *testing.T) {
	input := strings.Join([]string{
		`["abc123", "UAL123 ", "US", 1700000000, 1700000005, -122.5, 37.5, 10000, false, 250, 45, 5, null, 10050, "1200", false, 0]`,
		``,
		`{"time": 1700000010, "states": [["def456", "", "US", null, 1700000006, -122.1, 37.9, null, true, 0, 180, 0, null, null, null, false, 0], ["ghi789", "X", "US", null, null, null, null]]}`,
		`[["jkl012", "DAL9", "US", null, 1700000007, -121.9, 37.1, 3000, false, 100, 90, 0, null, null, "7000", false, 0]]`,
		`not json`,
		`{"time": 1700000011, "states": null}`,
	}, "\n")

	now := time.UnixMilli(1700000020000)
	flights, st, err := normalizeStream(strings.NewReader(input), normalize.SourceOpenSky, now)
	if err != nil {
		t.Fatalf("normalizeStream: %v", err)
	}

	if st.Lines != 6 || st.Records != 4 || st.Emitted != 3 || st.Discarded != 1 || st.Invalid != 1 {
		t.Errorf("stats = %+v", st)
	}
	if len(flights) != 3 {
		t.Fatalf("got %d flights", len(flights))
	}

	first := flights[0]
	if first.ID != "abc123" || first.Callsign != "UAL123" || first.Altitude != 32808 || first.Speed != 486 {
		t.Errorf("first = %+v", first)
	}
	if flights[1].Callsign != "def456" {
		t.Errorf("empty callsign should fall back to id, got %q", flights[1].Callsign)
	}
	if flights[2].ID != "jkl012" || flights[2].Squawk != "7000" {
		t.Errorf("third = %+v", flights[2])
	}
}

func TestNormalizeStreamUnsupportedSource(t *testing.T) {
	_, _, err := normalizeStream(strings.NewReader(`["a", "b", "c"]`), "adsbx", time.Now())
	if !errors.Is(err, normalize.ErrUnsupportedSource) {
		t.Errorf("err = %v, want ErrUnsupportedSource", err)
	}
}

func TestExportWriter(t *testing.T) {
	for _, format := range []string{"kml", "geojson", "json", "csv"} {
		if _, err := exportWriter(format); err != nil {
			t.Errorf("%s: %v", format, err)
		}
	}
	if _, err := exportWriter("gpx"); err == nil {
		t.Error("expected error for gpx")
	}
}
