// Package config assembles the ledgerlink configuration from viper: the
// config file, LEDGERLINK_* environment variables and bound flags.
package config

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ledgerlink-reconciliation-service/internal/api"
	"ledgerlink-reconciliation-service/internal/connection"
	"ledgerlink-reconciliation-service/internal/history"
	"ledgerlink-reconciliation-service/internal/matcher"
	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/internal/reconciler"
	"ledgerlink-reconciliation-service/internal/reporter"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "LEDGERLINK"

// Matching profiles
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// History backends
const (
	BackendNone     = "none"
	BackendCSV      = "csv"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the complete configuration of the ledgerlink binary
type Config struct {
	Profile    string
	Reconciler *reconciler.Config
	Report     *reporter.ReportConfig
	Server     *api.Config
	History    HistoryConfig
	Monitor    *connection.MonitorConfig
	Providers  map[string]ProviderConfig
	Log        *logger.Config
}

// HistoryConfig selects and configures the historical AR backend
type HistoryConfig struct {
	Backend string

	// csv backend
	CSVPath             string
	DateFormat          normalizer.DateFormat
	DefaultCounterparty string

	// redis backend
	RedisURL string
	TTL      time.Duration

	// postgres backend
	PostgresDSN string
}

// ProviderConfig is one accounting integration whose connection is monitored
type ProviderConfig struct {
	StatusURL string
	Token     string
}

// Setup points v at the config file, if any, and enables environment
// overrides such as LEDGERLINK_HISTORY_BACKEND for history.backend
func Setup(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file == "" {
		return nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return errors.FileError(errors.CodeFileNotFound, file, err).
			WithSuggestion("check the --config path and the file syntax")
	}
	return nil
}

// SetDefaults registers the default of every key. Matching keys have no
// default so that an unset key keeps the profile's value.
func SetDefaults(v *viper.Viper) {
	r := reconciler.DefaultConfig()
	rep := reporter.DefaultReportConfig()
	srv := api.DefaultConfig()
	mon := connection.DefaultMonitorConfig()
	lg := logger.DefaultConfig()

	v.SetDefault("profile", ProfileDefault)

	v.SetDefault("reconciler.receivable_source", string(r.ReceivableSource))
	v.SetDefault("reconciler.payable_source", string(r.PayableSource))

	v.SetDefault("report.format", string(rep.Format))
	v.SetDefault("report.include_matches", rep.IncludeMatches)
	v.SetDefault("report.include_unmatched", rep.IncludeUnmatched)
	v.SetDefault("report.include_insights", rep.IncludeInsights)
	v.SetDefault("report.include_warnings", rep.IncludeWarnings)
	v.SetDefault("report.table_max_width", rep.TableMaxWidth)
	v.SetDefault("report.max_items", rep.MaxItems)
	v.SetDefault("report.csv_category", string(rep.CSVCategory))

	v.SetDefault("server.address", srv.Address)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", srv.MaxBodyBytes)
	v.SetDefault("server.rate_limit.requests_per_second", srv.RateLimit.RequestsPerSecond)
	v.SetDefault("server.rate_limit.burst", srv.RateLimit.Burst)
	v.SetDefault("server.rate_limit.cleanup_interval", srv.RateLimit.CleanupInterval)

	v.SetDefault("history.backend", BackendNone)
	v.SetDefault("history.date_format", string(normalizer.FormatISO))
	v.SetDefault("history.ttl", time.Duration(0))

	v.SetDefault("connections.min_recheck_interval", mon.MinRecheckInterval)
	v.SetDefault("connections.poll_interval", mon.PollInterval)
	v.SetDefault("connections.check_timeout", mon.CheckTimeout)
	v.SetDefault("connections.max_retries", mon.MaxRetries)
	v.SetDefault("connections.initial_backoff", mon.InitialBackoff)
	v.SetDefault("connections.max_backoff", mon.MaxBackoff)

	v.SetDefault("log.level", string(lg.Level))
	v.SetDefault("log.format", string(lg.Format))
	v.SetDefault("log.output", string(lg.Output))
}

// Load builds and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Profile: strings.ToLower(strings.TrimSpace(v.GetString("profile"))),
	}

	matching, err := loadMatching(v, c.Profile)
	if err != nil {
		return nil, err
	}
	c.Reconciler = &reconciler.Config{
		Matching:         matching,
		ReceivableSource: models.SourceSystem(strings.ToLower(v.GetString("reconciler.receivable_source"))),
		PayableSource:    models.SourceSystem(strings.ToLower(v.GetString("reconciler.payable_source"))),
	}
	if err := c.Reconciler.Validate(); err != nil {
		return nil, err
	}

	c.Report = &reporter.ReportConfig{
		Format:           reporter.OutputFormat(strings.ToLower(v.GetString("report.format"))),
		IncludeMatches:   v.GetBool("report.include_matches"),
		IncludeUnmatched: v.GetBool("report.include_unmatched"),
		IncludeInsights:  v.GetBool("report.include_insights"),
		IncludeWarnings:  v.GetBool("report.include_warnings"),
		TableMaxWidth:    v.GetInt("report.table_max_width"),
		MaxItems:         v.GetInt("report.max_items"),
		CSVCategory:      reporter.Category(strings.ToLower(v.GetString("report.csv_category"))),
	}
	if err := c.Report.Validate(); err != nil {
		return nil, err
	}

	c.Server = &api.Config{
		Address:         v.GetString("server.address"),
		ReadTimeout:     v.GetDuration("server.read_timeout"),
		WriteTimeout:    v.GetDuration("server.write_timeout"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		MaxBodyBytes:    v.GetInt64("server.max_body_bytes"),
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("server.rate_limit.requests_per_second"),
			Burst:             v.GetInt("server.rate_limit.burst"),
			CleanupInterval:   v.GetDuration("server.rate_limit.cleanup_interval"),
		},
	}
	if err := c.Server.Validate(); err != nil {
		return nil, err
	}

	c.History = HistoryConfig{
		Backend:             strings.ToLower(strings.TrimSpace(v.GetString("history.backend"))),
		CSVPath:             v.GetString("history.csv_path"),
		DateFormat:          normalizer.DateFormat(strings.TrimSpace(v.GetString("history.date_format"))),
		DefaultCounterparty: v.GetString("history.default_counterparty"),
		RedisURL:            v.GetString("history.redis_url"),
		TTL:                 v.GetDuration("history.ttl"),
		PostgresDSN:         v.GetString("history.postgres_dsn"),
	}
	if err := c.History.Validate(); err != nil {
		return nil, err
	}

	c.Monitor = &connection.MonitorConfig{
		MinRecheckInterval: v.GetDuration("connections.min_recheck_interval"),
		PollInterval:       v.GetDuration("connections.poll_interval"),
		CheckTimeout:       v.GetDuration("connections.check_timeout"),
		MaxRetries:         v.GetUint64("connections.max_retries"),
		InitialBackoff:     v.GetDuration("connections.initial_backoff"),
		MaxBackoff:         v.GetDuration("connections.max_backoff"),
	}
	if err := c.Monitor.Validate(); err != nil {
		return nil, err
	}

	c.Providers = make(map[string]ProviderConfig)
	for name := range v.GetStringMap("connections.providers") {
		key := "connections.providers." + name
		p := ProviderConfig{
			StatusURL: v.GetString(key + ".status_url"),
			Token:     v.GetString(key + ".token"),
		}
		if p.StatusURL == "" {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, key+".status_url", "", nil).
				WithSuggestion("set the provider's connection status endpoint")
		}
		c.Providers[strings.ToLower(name)] = p
	}

	c.Log = &logger.Config{
		Level:  logger.Level(strings.ToLower(v.GetString("log.level"))),
		Format: logger.Format(strings.ToLower(v.GetString("log.format"))),
		Output: logger.Output(strings.ToLower(v.GetString("log.output"))),
		File:   v.GetString("log.file"),
	}
	if v.GetBool("verbose") {
		c.Log.Level = logger.DebugLevel
	}
	if err := c.Log.Validate(); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "invalid log configuration")
	}

	return c, nil
}

// MatchingProfile returns the matching configuration of a named profile
func MatchingProfile(name string) (*matcher.Config, error) {
	switch name {
	case "", ProfileDefault:
		return matcher.DefaultConfig(), nil
	case ProfileStrict:
		return matcher.StrictConfig(), nil
	case ProfileRelaxed:
		return matcher.RelaxedConfig(), nil
	default:
		return nil, errors.InvalidConfigurationError("profile", name, nil).
			WithSuggestion("use one of default, strict or relaxed")
	}
}

// loadMatching starts from the profile and applies the keys set in the
// config file, environment or flags
func loadMatching(v *viper.Viper, profile string) (*matcher.Config, error) {
	m, err := MatchingProfile(profile)
	if err != nil {
		return nil, err
	}

	if v.IsSet("matching.amount_tolerance_absolute") {
		raw := strings.TrimSpace(v.GetString("matching.amount_tolerance_absolute"))
		abs, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.InvalidConfigurationError("matching.amount_tolerance_absolute", raw, err)
		}
		m.AmountToleranceAbsolute = abs
	}
	if v.IsSet("matching.amount_tolerance_percent") {
		m.AmountTolerancePercent = v.GetFloat64("matching.amount_tolerance_percent")
	}
	if v.IsSet("matching.date_window_days") {
		m.DateWindowDays = v.GetInt("matching.date_window_days")
	}
	if v.IsSet("matching.perfect_threshold") {
		m.PerfectThreshold = v.GetInt("matching.perfect_threshold")
	}
	if v.IsSet("matching.min_acceptable_threshold") {
		m.MinAcceptableThreshold = v.GetInt("matching.min_acceptable_threshold")
	}
	if v.IsSet("matching.parallel_threshold") {
		m.ParallelThreshold = v.GetInt("matching.parallel_threshold")
	}
	if v.IsSet("matching.max_workers") {
		m.MaxWorkers = v.GetInt("matching.max_workers")
	}
	if v.IsSet("matching.weights.amount") {
		m.Weights.Amount = v.GetFloat64("matching.weights.amount")
	}
	if v.IsSet("matching.weights.date") {
		m.Weights.Date = v.GetFloat64("matching.weights.date")
	}
	if v.IsSet("matching.weights.reference") {
		m.Weights.Reference = v.GetFloat64("matching.weights.reference")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the selected backend has what it needs
func (h HistoryConfig) Validate() error {
	switch h.Backend {
	case "", BackendNone:
		return nil
	case BackendCSV:
		if h.CSVPath == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "history.csv_path", "", nil)
		}
		return h.DateFormat.Validate()
	case BackendRedis:
		if h.RedisURL == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "history.redis_url", "", nil)
		}
	case BackendPostgres:
		if h.PostgresDSN == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "history.postgres_dsn", "", nil)
		}
	default:
		return errors.InvalidConfigurationError("history.backend", h.Backend, nil).
			WithSuggestion("use one of none, csv, redis or postgres")
	}
	return nil
}

// Enabled reports whether a backend is selected
func (h HistoryConfig) Enabled() bool {
	return h.Backend != "" && h.Backend != BackendNone
}

// Open connects the selected backend. The returned close function is never
// nil. A nil store means history is disabled.
func (h HistoryConfig) Open(ctx context.Context, log logger.Logger) (history.Store, func() error, error) {
	noop := func() error { return nil }

	switch h.Backend {
	case "", BackendNone:
		return nil, noop, nil

	case BackendCSV:
		store, batch, err := history.LoadCSV(ctx, h.CSVPath, history.LoadOptions{
			DateFormat:          h.DateFormat,
			DefaultCounterparty: h.DefaultCounterparty,
		})
		if err != nil {
			return nil, noop, err
		}
		if rejected := batch.Stats.Rejected; rejected > 0 {
			log.WithFields(logger.Fields{
				"file_path": h.CSVPath,
				"rejected":  rejected,
			}).Warn("Some history rows were skipped")
		}
		return store, noop, nil

	case BackendRedis:
		store, err := history.NewRedisStoreFromURL(h.RedisURL, h.TTL)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case BackendPostgres:
		store, err := history.OpenPostgres(ctx, h.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, noop, errors.ReconciliationError(errors.CodeHistoryLookup, "postgres_schema", err)
		}
		return store, store.Close, nil
	}

	return nil, noop, h.Validate()
}

// Session registers one monitor per configured provider. client may be nil.
func (c *Config) Session(client *http.Client, log logger.Logger) (*connection.Session, error) {
	session := connection.NewSession(log)

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.Providers[name]
		checker, err := connection.NewHTTPChecker(p.StatusURL, p.Token, client)
		if err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
				fmt.Sprintf("invalid provider %s", name))
		}
		monitor, err := connection.NewMonitor(name, checker, c.Monitor, log)
		if err != nil {
			return nil, err
		}
		if err := session.Register(monitor); err != nil {
			return nil, err
		}
	}
	return session, nil
}
