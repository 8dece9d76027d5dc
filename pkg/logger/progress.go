package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker reports how far a long pass over a batch has got, such as
// scoring a large receivable ledger. Safe for concurrent use.
type ProgressTracker struct {
	logger    Logger
	operation string
	total     int64
	interval  time.Duration

	mu      sync.Mutex
	done    int64
	started time.Time
	logged  time.Time
}

// ProgressConfig configures a ProgressTracker
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker starts tracking an operation of cfg.Total items
func NewProgressTracker(cfg ProgressConfig) *ProgressTracker {
	if cfg.Logger == nil {
		cfg.Logger = GetGlobalLogger()
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 5 * time.Second
	}

	now := time.Now()
	return &ProgressTracker{
		logger:    cfg.Logger.WithField("operation", cfg.Operation),
		operation: cfg.Operation,
		total:     cfg.Total,
		interval:  cfg.LogInterval,
		started:   now,
		logged:    now,
	}
}

// Increment records one finished item
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Add records delta finished items and logs at most once per interval
func (p *ProgressTracker) Add(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += delta
	now := time.Now()
	if now.Sub(p.logged) < p.interval {
		return
	}
	p.logged = now

	stats := p.statsAt(now)
	fields := Fields{
		"processed": stats.Current,
		"rate":      fmt.Sprintf("%.2f/sec", stats.Rate),
	}
	if stats.Total > 0 {
		fields["total"] = stats.Total
		fields["percentage"] = fmt.Sprintf("%.1f%%", stats.Percentage)
	}
	p.logger.WithFields(fields).Info("Progress update")
}

// Complete logs the final count and duration
func (p *ProgressTracker) Complete() {
	stats := p.GetStats()
	p.logger.WithFields(Fields{
		"processed": stats.Current,
		"duration":  stats.Duration.String(),
	}).Debug("Operation completed")
}

// CompleteWithError logs how far the operation got before err
func (p *ProgressTracker) CompleteWithError(err error) {
	stats := p.GetStats()
	p.logger.WithError(err).WithFields(Fields{
		"processed": stats.Current,
		"total":     stats.Total,
		"duration":  stats.Duration.String(),
	}).Error("Operation failed")
}

// ProgressStats is a snapshot of a tracked operation
type ProgressStats struct {
	Operation  string
	Total      int64
	Current    int64
	Percentage float64
	Duration   time.Duration
	Rate       float64
}

// GetStats returns the current snapshot
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsAt(time.Now())
}

func (p *ProgressTracker) statsAt(now time.Time) ProgressStats {
	s := ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.done,
		Duration:  now.Sub(p.started),
	}
	if secs := s.Duration.Seconds(); secs > 0 {
		s.Rate = float64(p.done) / secs
	}
	if p.total > 0 {
		s.Percentage = float64(p.done) / float64(p.total) * 100
	}
	return s
}

// OperationLogger logs the steps of one multi-step run, such as a
// reconciliation, under a shared set of fields.
type OperationLogger struct {
	logger  Logger
	fields  Fields
	started time.Time
}

// NewOperationLogger logs the start of operation and returns its logger
func NewOperationLogger(operation string, log Logger) *OperationLogger {
	if log == nil {
		log = GetGlobalLogger()
	}
	ol := &OperationLogger{
		logger:  log,
		fields:  Fields{"operation": operation},
		started: time.Now(),
	}
	ol.logger.WithFields(ol.fields).Debug("Starting operation")
	return ol
}

// WithFields adds fields to every later line of the operation
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	for k, v := range fields {
		ol.fields[k] = v
	}
	return ol
}

// Step logs one finished step
func (ol *OperationLogger) Step(step string, fields Fields) {
	ol.logger.WithFields(ol.fields).WithFields(fields).WithField("step", step).Debug("Operation step")
}

// Success logs completion with the elapsed time
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.started).String(),
		"status":   "success",
	}).Info(message)
}

// Error logs failure with the elapsed time
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.started).String(),
		"status":   "error",
	}).Error(message)
}
