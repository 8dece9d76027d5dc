// Package reconciler runs one reconciliation: it normalizes both ledgers,
// matches receivables against payables, annotates unmatched payables with
// historical insights and aggregates everything into MatchingResults.
//
// A run either returns a complete result or fails. Per-record normalization
// failures are not fatal; they are reported in the result's warnings.
//
// Example usage:
//
//	service, err := reconciler.NewService(reconciler.DefaultConfig(), store, log)
//	results, err := service.Reconcile(ctx, &reconciler.Request{
//		CustomerID:  "acme",
//		Receivables: reconciler.SourceBatch{Xero: invoices},
//		Payables:    reconciler.SourceBatch{Rows: rows, DateFormat: normalizer.FormatDayMonthYear},
//	})
package reconciler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ledgerlink-reconciliation-service/internal/history"
	"ledgerlink-reconciliation-service/internal/insights"
	"ledgerlink-reconciliation-service/internal/matcher"
	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

var tracer = otel.Tracer("ledgerlink/reconciler")

// Config holds configuration options for the reconciliation service
type Config struct {
	Matching *matcher.Config `json:"matching" mapstructure:"matching"`

	// Source systems assumed for batches of already-normalized records
	// that do not carry one
	ReceivableSource models.SourceSystem `json:"receivable_source" mapstructure:"receivable_source"`
	PayableSource    models.SourceSystem `json:"payable_source" mapstructure:"payable_source"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Matching:         matcher.DefaultConfig(),
		ReceivableSource: models.SourceXero,
		PayableSource:    models.SourceCSV,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return errors.InvalidConfigurationError("matching", nil, fmt.Errorf("matching configuration is required"))
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	if !c.ReceivableSource.IsValid() {
		return errors.InvalidConfigurationError("receivable_source", c.ReceivableSource, nil)
	}
	if !c.PayableSource.IsValid() {
		return errors.InvalidConfigurationError("payable_source", c.PayableSource, nil)
	}
	return nil
}

// SourceBatch is one side of a reconciliation. Exactly one of Rows, Xero,
// Coupa or Records is used; an empty batch fails the run as empty input.
type SourceBatch struct {
	// Source names the system the records came from. Rows default to csv.
	Source     models.SourceSystem
	DateFormat normalizer.DateFormat
	Mapping    *normalizer.CSVMapping

	Rows    []normalizer.RawRecord
	Xero    []normalizer.XeroInvoice
	Coupa   []normalizer.CoupaInvoice
	Records []models.TransactionRecord
}

// kinds returns the number of populated inputs
func (b *SourceBatch) kinds() int {
	n := 0
	for _, populated := range []bool{len(b.Rows) > 0, len(b.Xero) > 0, len(b.Coupa) > 0, len(b.Records) > 0} {
		if populated {
			n++
		}
	}
	return n
}

// Size returns the number of input items
func (b *SourceBatch) Size() int {
	return len(b.Rows) + len(b.Xero) + len(b.Coupa) + len(b.Records)
}

// Validate rejects a batch that cannot be normalized
func (b *SourceBatch) Validate(side models.Side) error {
	if b.kinds() > 1 {
		return errors.InvalidConfigurationError(string(side)+"_batch", b.Size(),
			fmt.Errorf("a batch holds exactly one of rows, xero, coupa or records"))
	}
	if b.Source != "" && !b.Source.IsValid() {
		return errors.InvalidConfigurationError(string(side)+"_source", b.Source, nil)
	}
	if len(b.Rows) > 0 {
		return b.options(side, models.SourceCSV).Validate()
	}
	// Xero and Coupa fall back to their own serialisation format
	if b.DateFormat != "" {
		return b.DateFormat.Validate()
	}
	return nil
}

func (b *SourceBatch) options(side models.Side, fallback models.SourceSystem) normalizer.Options {
	source := b.Source
	if source == "" {
		source = fallback
	}
	return normalizer.Options{
		Source:     source,
		Side:       side,
		DateFormat: b.DateFormat,
		Mapping:    b.Mapping,
	}
}

// Request represents one reconciliation run
type Request struct {
	CustomerID   string `json:"customer_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`

	Receivables SourceBatch `json:"-"`
	Payables    SourceBatch `json:"-"`

	// UseHistoricalData enables historical insights for unmatched payables
	UseHistoricalData bool `json:"use_historical_data"`
}

// Validate validates the reconciliation request
func (r *Request) Validate() error {
	if err := r.Receivables.Validate(models.SideReceivable); err != nil {
		return err
	}
	return r.Payables.Validate(models.SidePayable)
}

// Service orchestrates the complete reconciliation process
type Service struct {
	config     *Config
	normalizer *normalizer.Normalizer
	engine     *matcher.Engine
	insights   *insights.Generator
	store      history.Store
	logger     logger.Logger
}

// NewService creates a reconciliation service. store may be nil, in which
// case requests asking for historical data are rejected.
func NewService(config *Config, store history.Store, log logger.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	matching := config.Matching.Clone()
	return &Service{
		config:     config,
		normalizer: normalizer.New(log),
		engine:     matcher.NewEngine(matching, log),
		insights:   insights.NewGenerator(store, matching, log),
		store:      store,
		logger:     log.WithComponent("reconciler"),
	}, nil
}

// Config returns the service configuration
func (s *Service) Config() *Config {
	return s.config
}

// HistoryEnabled reports whether the service has a history store
func (s *Service) HistoryEnabled() bool {
	return s.store != nil
}

// Reconcile performs the complete reconciliation. The returned results are
// never partial: any failure after validation discards all work.
func (s *Service) Reconcile(ctx context.Context, req *Request) (*models.MatchingResults, error) {
	ctx, span := tracer.Start(ctx, "reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledgerlink.customer_id", req.CustomerID),
		attribute.Bool("ledgerlink.use_historical_data", req.UseHistoricalData),
	)

	op := logger.NewOperationLogger("reconcile", s.logger).WithFields(logger.Fields{
		"customer_id":         req.CustomerID,
		"connection_id":       req.ConnectionID,
		"use_historical_data": req.UseHistoricalData,
	})

	results, err := s.run(ctx, req, op)
	if err != nil {
		span.RecordError(err)
		op.Error(err, "Reconciliation failed")
		return nil, err
	}

	op.WithFields(logger.Fields{
		"perfect_matches": len(results.PerfectMatches),
		"mismatches":      len(results.Mismatches),
		"unmatched_ar":    len(results.UnmatchedItems.Company1),
		"unmatched_ap":    len(results.UnmatchedItems.Company2),
		"insights":        len(results.HistoricalInsights),
		"warnings":        len(results.Warnings),
	}).Success("Reconciliation completed")
	return results, nil
}
