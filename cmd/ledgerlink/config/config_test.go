package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ledgerlink-reconciliation-service/internal/connection"
	"ledgerlink-reconciliation-service/internal/history"
	"ledgerlink-reconciliation-service/internal/matcher"
	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/reporter"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	file := ""
	if yaml != "" {
		file = filepath.Join(t.TempDir(), "ledgerlink.yaml")
		if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}

	v := viper.New()
	if err := Setup(v, file); err != nil {
		return nil, err
	}
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	c, err := load(t, "")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}

	if c.Profile != ProfileDefault {
		t.Errorf("expected profile %q, got %q", ProfileDefault, c.Profile)
	}
	want := matcher.DefaultConfig()
	if c.Reconciler.Matching.DateWindowDays != want.DateWindowDays {
		t.Errorf("expected date window %d, got %d", want.DateWindowDays, c.Reconciler.Matching.DateWindowDays)
	}
	if !c.Reconciler.Matching.AmountToleranceAbsolute.Equal(want.AmountToleranceAbsolute) {
		t.Errorf("expected absolute tolerance %s, got %s", want.AmountToleranceAbsolute, c.Reconciler.Matching.AmountToleranceAbsolute)
	}
	if c.Reconciler.ReceivableSource != models.SourceXero || c.Reconciler.PayableSource != models.SourceCSV {
		t.Errorf("unexpected default sources %s/%s", c.Reconciler.ReceivableSource, c.Reconciler.PayableSource)
	}
	if c.Report.Format != reporter.FormatConsole {
		t.Errorf("expected console format, got %s", c.Report.Format)
	}
	if c.Server.Address != ":8080" {
		t.Errorf("expected address :8080, got %s", c.Server.Address)
	}
	if c.History.Enabled() {
		t.Error("expected history to be disabled by default")
	}
	if c.Monitor.PollInterval != connection.DefaultMonitorConfig().PollInterval {
		t.Errorf("unexpected poll interval %s", c.Monitor.PollInterval)
	}
	if len(c.Providers) != 0 {
		t.Errorf("expected no providers, got %d", len(c.Providers))
	}
	if c.Log.Level != logger.InfoLevel {
		t.Errorf("expected info level, got %s", c.Log.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	c, err := load(t, `
profile: strict
matching:
  amount_tolerance_absolute: "0.05"
  date_window_days: 14
report:
  format: json
  max_items: 25
server:
  address: ":9090"
  rate_limit:
    requests_per_second: 5
    burst: 10
history:
  backend: redis
  redis_url: redis://localhost:6379/1
  ttl: 24h
connections:
  poll_interval: 1m
  providers:
    xero:
      status_url: https://erp.example.com/xero/status
      token: secret
    Coupa:
      status_url: https://erp.example.com/coupa/status
log:
  level: warn
  format: json
`)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	strict := matcher.StrictConfig()
	m := c.Reconciler.Matching
	if m.PerfectThreshold != strict.PerfectThreshold {
		t.Errorf("expected strict perfect threshold %d, got %d", strict.PerfectThreshold, m.PerfectThreshold)
	}
	if m.DateWindowDays != 14 {
		t.Errorf("expected date window override 14, got %d", m.DateWindowDays)
	}
	if !m.AmountToleranceAbsolute.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected absolute tolerance 0.05, got %s", m.AmountToleranceAbsolute)
	}
	if m.AmountTolerancePercent != strict.AmountTolerancePercent {
		t.Errorf("unset keys should keep the profile value, got %v", m.AmountTolerancePercent)
	}

	if c.Report.Format != reporter.FormatJSON || c.Report.MaxItems != 25 {
		t.Errorf("unexpected report config %+v", c.Report)
	}
	if c.Server.Address != ":9090" || c.Server.RateLimit.Burst != 10 {
		t.Errorf("unexpected server config %+v", c.Server)
	}
	if c.History.Backend != BackendRedis || c.History.TTL != 24*time.Hour {
		t.Errorf("unexpected history config %+v", c.History)
	}
	if c.Monitor.PollInterval != time.Minute {
		t.Errorf("expected poll interval 1m, got %s", c.Monitor.PollInterval)
	}
	if len(c.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(c.Providers))
	}
	if c.Providers["xero"].Token != "secret" {
		t.Errorf("expected xero token, got %q", c.Providers["xero"].Token)
	}
	if _, ok := c.Providers["coupa"]; !ok {
		t.Error("expected provider names to be lower-cased")
	}
	if c.Log.Level != logger.WarnLevel || c.Log.Format != logger.JSONFormat {
		t.Errorf("unexpected log config %+v", c.Log)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEDGERLINK_HISTORY_BACKEND", "postgres")
	t.Setenv("LEDGERLINK_HISTORY_POSTGRES_DSN", "postgres://localhost/ledgerlink")
	t.Setenv("LEDGERLINK_MATCHING_MIN_ACCEPTABLE_THRESHOLD", "60")
	t.Setenv("LEDGERLINK_REPORT_FORMAT", "CSV")

	c, err := load(t, "")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if c.History.Backend != BackendPostgres {
		t.Errorf("expected postgres backend, got %q", c.History.Backend)
	}
	if c.Reconciler.Matching.MinAcceptableThreshold != 60 {
		t.Errorf("expected threshold 60, got %d", c.Reconciler.Matching.MinAcceptableThreshold)
	}
	if c.Report.Format != reporter.FormatCSV {
		t.Errorf("expected csv format, got %s", c.Report.Format)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		code errors.ErrorCode
	}{
		{"unknown profile", "profile: lenient\n", errors.CodeInvalidConfig},
		{"bad tolerance", "matching:\n  amount_tolerance_absolute: abc\n", errors.CodeInvalidConfig},
		{"threshold order", "matching:\n  perfect_threshold: 40\n", errors.CodeInvalidConfig},
		{"bad source", "reconciler:\n  payable_source: sap\n", errors.CodeInvalidConfig},
		{"bad report format", "report:\n  format: pdf\n", errors.CodeInvalidConfig},
		{"unknown backend", "history:\n  backend: mongo\n", errors.CodeInvalidConfig},
		{"csv backend without path", "history:\n  backend: csv\n", errors.CodeMissingConfig},
		{"provider without url", "connections:\n  providers:\n    xero:\n      token: x\n", errors.CodeMissingConfig},
		{"bad log level", "log:\n  level: loud\n", errors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yaml)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestSetup_MissingFile(t *testing.T) {
	err := Setup(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.HasCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file not found, got %v", err)
	}
}

func TestMatchingProfile(t *testing.T) {
	for _, name := range []string{"", ProfileDefault, ProfileStrict, ProfileRelaxed} {
		m, err := MatchingProfile(name)
		if err != nil {
			t.Errorf("profile %q: unexpected error %v", name, err)
			continue
		}
		if err := m.Validate(); err != nil {
			t.Errorf("profile %q is invalid: %v", name, err)
		}
	}
	if _, err := MatchingProfile("other"); !errors.IsInvalidConfiguration(err) {
		t.Errorf("expected invalid configuration, got %v", err)
	}
}

func TestHistoryConfig_OpenCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	content := "Transaction #,Amount,Date,Contact\nINV-1,100.00,2023-05-01,Acme\nINV-2,oops,2023-05-02,Acme\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write history: %v", err)
	}

	h := HistoryConfig{Backend: BackendCSV, CSVPath: path, DateFormat: "YYYY-MM-DD"}
	store, closeFn, err := h.Open(context.Background(), logger.Discard())
	if err != nil {
		t.Fatalf("failed to open csv history: %v", err)
	}
	defer closeFn()

	records, err := store.Lookup(context.Background(), "acme")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(records) != 1 || records[0].TransactionNumber != "INV-1" {
		t.Errorf("expected INV-1 only, got %+v", records)
	}
}

func TestHistoryConfig_OpenNone(t *testing.T) {
	store, closeFn, err := HistoryConfig{Backend: BackendNone}.Open(context.Background(), logger.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store != nil {
		t.Errorf("expected no store, got %T", store)
	}
	if closeFn() != nil {
		t.Error("expected close to succeed")
	}
}

func TestHistoryConfig_OpenRedis(t *testing.T) {
	h := HistoryConfig{Backend: BackendRedis, RedisURL: "redis://localhost:6379/0"}
	store, _, err := h.Open(context.Background(), logger.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*history.RedisStore); !ok {
		t.Errorf("expected a redis store, got %T", store)
	}

	h.RedisURL = "not a url"
	if _, _, err := h.Open(context.Background(), logger.Discard()); !errors.IsInvalidConfiguration(err) {
		t.Errorf("expected invalid configuration, got %v", err)
	}
}

func TestSession(t *testing.T) {
	c, err := load(t, `
connections:
  providers:
    xero:
      status_url: https://erp.example.com/xero/status
    coupa:
      status_url: https://erp.example.com/coupa/status
`)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	session, err := c.Session(nil, logger.Discard())
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}

	statuses := session.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 monitors, got %d", len(statuses))
	}
	if statuses[0].Provider != "coupa" || statuses[1].Provider != "xero" {
		t.Errorf("expected sorted providers, got %s, %s", statuses[0].Provider, statuses[1].Provider)
	}
	for _, s := range statuses {
		if s.State != connection.StateUnknown {
			t.Errorf("%s: expected unknown state before init, got %s", s.Provider, s.State)
		}
	}
}
