package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"flight_tracker/internal/flight"
	"flight_tracker/internal/normalize"
)

// normalizeStats counts what a normalize run saw.
type normalizeStats struct {
	Lines     int
	Records   int
	Emitted   int
	Discarded int
	Invalid   int
}

func runNormalize(args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	src := fs.String("source", "", "Source adapter: "+sourceList())
	inPath := fs.String("input", "", "Input JSONL file (default: stdin)")
	outPath := fs.String("output", "", "Output JSON file (default: stdout)")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	showStats := fs.Bool("stats", false, "Print basic counters to stderr")
	_ = fs.Parse(args)

	tag, err := normalize.ParseSource(*src)
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	flights, st, err := normalizeStream(r, tag, time.Now())
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(flights); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if *showStats {
		fmt.Fprintf(os.Stderr,
			"stats: lines=%d records=%d emitted=%d discarded=%d invalid_lines=%d\n",
			st.Lines, st.Records, st.Emitted, st.Discarded, st.Invalid)
	}
	return nil
}

// normalizeStream reads one JSON value per line. A line may hold a single
// record, an array of records or an OpenSky {"states": [...]} envelope.
func normalizeStream(r io.Reader, src normalize.Source, now time.Time) ([]flight.Flight, normalizeStats, error) {
	scanner := bufio.NewScanner(r)
	// Envelopes can be large; bump buffer.
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 64*1024*1024)

	out := make([]flight.Flight, 0, 256)
	var st normalizeStats

	for scanner.Scan() {
		st.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		records, ok := decodeLine(line)
		if !ok {
			st.Invalid++
			continue
		}

		for _, raw := range records {
			st.Records++
			f, err := normalize.NormalizeAt(raw, src, now)
			if err != nil {
				return nil, st, err
			}
			if f == nil {
				st.Discarded++
				continue
			}
			st.Emitted++
			out = append(out, *f)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, st, fmt.Errorf("read input: %w", err)
	}
	return out, st, nil
}

func decodeLine(line []byte) ([]normalize.Raw, bool) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	switch t := v.(type) {
	case map[string]any:
		raw, present := t["states"]
		if !present {
			return nil, false
		}
		states, _ := raw.([]any)
		return toRecords(states), true
	case []any:
		if len(t) > 0 {
			if _, nested := t[0].([]any); nested {
				return toRecords(t), true
			}
		}
		return []normalize.Raw{normalize.Raw(t)}, true
	}
	return nil, false
}

func toRecords(items []any) []normalize.Raw {
	out := make([]normalize.Raw, 0, len(items))
	for _, it := range items {
		rec, _ := it.([]any)
		out = append(out, normalize.Raw(rec))
	}
	return out
}

func sourceList() string {
	var names []string
	for _, s := range normalize.Sources() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
