// Package export writes flight trails as KML, GeoJSON or CSV for viewing in
// Google Earth, QGIS and other mapping applications.
package export

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/normalize"
)

// Trail is a flight with its retained positions in ascending time order.
type Trail struct {
	Flight flight.Flight
	Points []flight.TrailPoint
}

// Source is the store view an export reads from.
type Source interface {
	GetAll(ctx context.Context, maxAge time.Duration) ([]flight.Flight, error)
	GetAllTrails(ctx context.Context, maxAge time.Duration, maxPoints int) (map[string][]flight.TrailPoint, error)
}

// Collect pairs every fresh flight with its trail, ordered by flight id.
// Flights without points are skipped.
func Collect(ctx context.Context, src Source, maxAge time.Duration, maxPoints int) ([]Trail, error) {
	flights, err := src.GetAll(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	trails, err := src.GetAllTrails(ctx, maxAge, maxPoints)
	if err != nil {
		return nil, err
	}

	out := make([]Trail, 0, len(flights))
	for _, f := range flights {
		if points := trails[f.ID]; len(points) > 0 {
			out = append(out, Trail{Flight: f, Points: points})
		}
	}
	return out, nil
}

// KML structures for XML marshalling.
// Element names follow the KML 2.2 reference: https://developers.google.com/kml/documentation/kmlreference

// KML is the root element of a KML document.
type KML struct {
	XMLName   xml.Name `xml:"kml"`
	Namespace string   `xml:"xmlns,attr"`
	Document  Document `xml:"Document"`
}

// Document contains the document metadata and features.
type Document struct {
	Name        string      `xml:"name"`
	Description string      `xml:"description,omitempty"`
	Styles      []Style     `xml:"Style,omitempty"`
	Placemarks  []Placemark `xml:"Placemark"`
}

// Style defines the visual appearance of trails.
type Style struct {
	ID        string    `xml:"id,attr"`
	LineStyle LineStyle `xml:"LineStyle"`
}

// LineStyle sets trail colour (aabbggrr) and width.
type LineStyle struct {
	Color string  `xml:"color"`
	Width float64 `xml:"width"`
}

// Placemark is one flight. Single-point trails use Point, longer ones
// LineString.
type Placemark struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description,omitempty"`
	StyleURL     string        `xml:"styleUrl,omitempty"`
	Point        *Geometry     `xml:"Point,omitempty"`
	LineString   *Geometry     `xml:"LineString,omitempty"`
	ExtendedData *ExtendedData `xml:"ExtendedData,omitempty"`
}

// Geometry holds KML coordinates.
type Geometry struct {
	AltitudeMode string `xml:"altitudeMode,omitempty"`
	Coordinates  string `xml:"coordinates"` // Format: lon,lat,altitude[ ...]
}

// ExtendedData holds custom data associated with a placemark.
type ExtendedData struct {
	Data []Data `xml:"Data"`
}

// Data represents a single piece of extended data.
type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// GenerateKML creates a KML document from the trails.
func GenerateKML(trails []Trail, generated time.Time) KML {
	placemarks := make([]Placemark, len(trails))
	for i, tr := range trails {
		f := tr.Flight

		// KML coordinates are longitude,latitude,altitude with altitude in
		// metres.
		coords := make([]string, len(tr.Points))
		for j, p := range tr.Points {
			coords[j] = fmt.Sprintf("%.6f,%.6f,%.0f", p.Longitude, p.Latitude, float64(p.Altitude)/normalize.MetersToFeet)
		}
		geom := &Geometry{AltitudeMode: "absolute", Coordinates: strings.Join(coords, " ")}

		pm := Placemark{
			Name:        f.Callsign,
			Description: fmt.Sprintf("%s at %d ft, %d kt\nLast report: %s", f.ID, f.Altitude, f.Speed, f.ReportTime().UTC().Format("2006-01-02 15:04:05 UTC")),
			StyleURL:    "#trailStyle",
			ExtendedData: &ExtendedData{
				Data: []Data{
					{Name: "id", Value: f.ID},
					{Name: "source", Value: f.Source},
					{Name: "squawk", Value: f.Squawk},
					{Name: "points", Value: fmt.Sprintf("%d", len(tr.Points))},
				},
			},
		}
		if len(tr.Points) == 1 {
			pm.Point = geom
		} else {
			pm.LineString = geom
		}
		placemarks[i] = pm
	}

	return KML{
		Namespace: "http://www.opengis.net/kml/2.2",
		Document: Document{
			Name:        "Flight trails",
			Description: fmt.Sprintf("%d flights. Generated %s.", len(trails), generated.UTC().Format("2006-01-02 15:04:05")),
			Styles: []Style{
				{ID: "trailStyle", LineStyle: LineStyle{Color: "ff00a5ff", Width: 2}},
			},
			Placemarks: placemarks,
		},
	}
}

// WriteKML writes an indented KML document with the XML header.
func WriteKML(w io.Writer, trails []Trail, generated time.Time) error {
	data, err := xml.MarshalIndent(GenerateKML(trails, generated), "", "  ")
	if err != nil {
		return fmt.Errorf("generate kml: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// GenerateGeoJSON returns one feature per flight: a LineString for trails
// with two or more points, otherwise a Point.
func GenerateGeoJSON(trails []Trail) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, tr := range trails {
		line := make(orb.LineString, len(tr.Points))
		for i, p := range tr.Points {
			line[i] = orb.Point{p.Longitude, p.Latitude}
		}

		var feat *geojson.Feature
		if len(line) == 1 {
			feat = geojson.NewFeature(line[0])
		} else {
			feat = geojson.NewFeature(line)
		}
		feat.ID = tr.Flight.ID

		f := tr.Flight
		feat.Properties["callsign"] = f.Callsign
		feat.Properties["altitude"] = f.Altitude
		feat.Properties["speed"] = f.Speed
		feat.Properties["heading"] = f.Heading
		feat.Properties["source"] = f.Source
		feat.Properties["timestamp"] = f.Timestamp

		times := make([]int64, len(tr.Points))
		alts := make([]int, len(tr.Points))
		for i, p := range tr.Points {
			times[i] = p.Timestamp
			alts[i] = p.Altitude
		}
		feat.Properties["timestamps"] = times
		feat.Properties["altitudes"] = alts

		fc.Append(feat)
	}
	return fc
}

// WriteGeoJSON writes the trails as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, trails []Trail) error {
	data, err := GenerateGeoJSON(trails).MarshalJSON()
	if err != nil {
		return fmt.Errorf("generate geojson: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteCSV writes one row per trail point with a header:
// flight_id,callsign,timestamp,latitude,longitude,altitude.
func WriteCSV(w io.Writer, trails []Trail) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"flight_id", "callsign", "timestamp", "latitude", "longitude", "altitude"}); err != nil {
		return err
	}
	for _, tr := range trails {
		for _, p := range tr.Points {
			row := []string{
				tr.Flight.ID,
				tr.Flight.Callsign,
				strconv.FormatInt(p.Timestamp, 10),
				strconv.FormatFloat(p.Latitude, 'f', 6, 64),
				strconv.FormatFloat(p.Longitude, 'f', 6, 64),
				strconv.Itoa(p.Altitude),
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
