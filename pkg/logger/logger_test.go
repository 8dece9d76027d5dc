package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewLogger(&Config{Level: level, Format: JSONFormat, Output: StdoutOutput, Writer: buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return l, buf
}

func TestFieldsAccumulate(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)

	l.WithComponent("matcher").WithField("run", "r1").WithError(errors.New("boom")).Info("scored")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{"component": "matcher", "run": "r1", "error": "boom", "msg": "scored"} {
		if entry[key] != want {
			t.Errorf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, WarnLevel)

	l.Info("hidden")
	l.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line should be written")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"service", *ServiceConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgressTracker(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)
	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "score",
		Total:       4,
		LogInterval: time.Nanosecond,
		Logger:      l,
	})

	tracker.Increment()
	tracker.Add(3)

	stats := tracker.GetStats()
	if stats.Current != 4 || stats.Percentage != 100 {
		t.Errorf("expected 4/4 at 100%%, got %d at %.1f", stats.Current, stats.Percentage)
	}
	if !strings.Contains(buf.String(), "Progress update") {
		t.Error("expected a progress line with a nanosecond interval")
	}
}

func TestOperationLogger(t *testing.T) {
	l, buf := newBufferLogger(t, DebugLevel)
	op := NewOperationLogger("reconcile", l).WithFields(Fields{"customer_id": "acme"})
	op.Step("match", Fields{"perfect_matches": 3})
	op.Error(errors.New("store down"), "Reconciliation failed")

	out := buf.String()
	for _, want := range []string{"Starting operation", `"step":"match"`, `"customer_id":"acme"`, `"status":"error"`, "store down"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}
