package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"flight_tracker/internal/normalize"
)

// maxBodySize caps how much of an upstream response is read.
const maxBodySize = 32 << 20

// HTTPConfig configures an HTTP fetcher.
type HTTPConfig struct {
	URL      string
	Source   normalize.Source
	Timeout  time.Duration
	Username string
	Password string

	// Bounds, if set, restricts an OpenSky query to a bounding box.
	Bounds orb.Bound
}

// HTTP polls a JSON endpoint returning either an OpenSky style
// {"time": ..., "states": [[...]]} object or a bare array of records.
type HTTP struct {
	cfg    HTTPConfig
	url    string
	client *http.Client
}

// NewHTTP validates cfg and returns a fetcher.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if _, err := normalize.ParseSource(string(cfg.Source)); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source url %q: scheme must be http or https", cfg.URL)
	}

	if cfg.Source == normalize.SourceOpenSky && !cfg.Bounds.IsZero() {
		q := u.Query()
		q.Set("lamin", formatCoord(cfg.Bounds.Min.Lat()))
		q.Set("lomin", formatCoord(cfg.Bounds.Min.Lon()))
		q.Set("lamax", formatCoord(cfg.Bounds.Max.Lat()))
		q.Set("lomax", formatCoord(cfg.Bounds.Max.Lon()))
		u.RawQuery = q.Encode()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &HTTP{
		cfg:    cfg,
		url:    u.String(),
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// URL returns the request URL including any bounding box.
func (h *HTTP) URL() string {
	return h.url
}

// Fetch performs one GET and decodes the records.
func (h *HTTP) Fetch(ctx context.Context) (Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return Batch{}, &FetchError{URL: h.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.Username != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Batch{}, &FetchError{URL: h.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Batch{}, &FetchError{URL: h.url, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Batch{}, &FetchError{URL: h.url, Status: resp.StatusCode, Err: err}
	}

	records, err := decodeRecords(body)
	if err != nil {
		return Batch{}, &FetchError{URL: h.url, Status: resp.StatusCode, Err: err}
	}
	return Batch{Source: h.cfg.Source, Records: records}, nil
}

// decodeRecords accepts a states envelope or a bare array. Numbers are kept
// as json.Number so integer fields survive intact.
func decodeRecords(body []byte) ([]normalize.Raw, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	switch body[0] {
	case '[':
		var records []normalize.Raw
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return records, nil
	case '{':
		var envelope struct {
			Time   json.Number     `json:"time"`
			States []normalize.Raw `json:"states"`
		}
		if err := dec.Decode(&envelope); err != nil {
			return nil, fmt.Errorf("decode states: %w", err)
		}
		return envelope.States, nil
	}
	return nil, fmt.Errorf("unexpected response starting with %q", body[0])
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
