package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from FT_* variables. Unset or empty variables
// leave the current value in place.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("FT_STORAGE_BACKEND", &c.Storage.Backend)
	e.str("FT_DB_PATH", &c.Storage.Path)
	e.str("FT_PG_HOST", &c.Storage.Postgres.Host)
	e.int("FT_PG_PORT", &c.Storage.Postgres.Port)
	e.str("FT_PG_DATABASE", &c.Storage.Postgres.Database)
	e.str("FT_PG_USER", &c.Storage.Postgres.User)
	e.str("FT_PG_PASSWORD", &c.Storage.Postgres.Password)

	e.str("FT_SOURCE", &c.Source.Type)
	e.str("FT_SOURCE_URL", &c.Source.URL)
	e.str("FT_SOURCE_USERNAME", &c.Source.Username)
	e.str("FT_SOURCE_PASSWORD", &c.Source.Password)
	e.duration("FT_SOURCE_TIMEOUT", &c.Source.Timeout)
	e.int("FT_MOCK_COUNT", &c.Source.MockCount)

	e.duration("FT_INTERVAL", &c.Ingest.Interval)
	e.duration("FT_FETCH_TIMEOUT", &c.Ingest.FetchTimeout)
	e.duration("FT_MAX_AGE", &c.Retention.MaxAge)
	e.int("FT_MAX_TRAIL_POINTS", &c.Retention.MaxTrailPoints)

	e.str("FT_API_ADDR", &c.API.Addr)
	e.bool("FT_API_AUTH", &c.API.AuthEnabled)
	e.list("FT_API_KEYS", &c.API.APIKeys)

	e.str("FT_CLICKHOUSE_HOST", &c.Archive.Host)
	e.int("FT_CLICKHOUSE_PORT", &c.Archive.Port)
	e.str("FT_CLICKHOUSE_DATABASE", &c.Archive.Database)
	e.str("FT_CLICKHOUSE_USER", &c.Archive.User)
	e.str("FT_CLICKHOUSE_PASSWORD", &c.Archive.Password)

	e.str("FT_NATS_URL", &c.NATS.URL)
	e.str("FT_NATS_SUBJECT", &c.NATS.Subject)

	e.str("FT_LOG_LEVEL", &c.Log.Level)
	e.str("FT_LOG_FORMAT", &c.Log.Format)
	e.str("FT_LOG_FILE", &c.Log.File)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
}

// list splits a comma-separated value, dropping empty entries.
func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}
