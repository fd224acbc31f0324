package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	closer, err := initTo(&buf, Config{Level: "info", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	Component("pipeline").Info("tick complete", "upserted", 3)
	Component("pipeline").Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "pipeline" || rec["msg"] != "tick complete" {
		t.Errorf("record = %v", rec)
	}
	if rec["upserted"] != float64(3) {
		t.Errorf("upserted = %v", rec["upserted"])
	}
}

func TestRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.log")

	var buf bytes.Buffer
	closer, err := initTo(&buf, Config{File: path})
	if err != nil {
		t.Fatal(err)
	}
	Component("api").Warn("slow request")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "slow request") || !strings.Contains(buf.String(), "slow request") {
		t.Errorf("file = %q, stdout = %q", data, buf.String())
	}
}

func TestInvalidFormat(t *testing.T) {
	if _, err := initTo(&bytes.Buffer{}, Config{Format: "xml"}); err == nil {
		t.Error("expected error for xml format")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewTextHandler(&buf, nil))

	ctx := ContextWithTickID(context.Background(), "abc")
	FromContext(ctx, Component("pipeline")).Info("hello")
	if !strings.Contains(buf.String(), "tick_id=abc") {
		t.Errorf("output = %q", buf.String())
	}

	if _, ok := TickID(context.Background()); ok {
		t.Error("empty context has a tick id")
	}
}
