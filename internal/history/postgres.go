package history

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// undefinedTable is the Postgres SQLSTATE for a missing relation
const undefinedTable = "42P01"

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS ar_history (
	counterparty       TEXT NOT NULL,
	transaction_number TEXT NOT NULL,
	transaction_type   TEXT NOT NULL,
	amount             NUMERIC(18, 2) NOT NULL,
	issue_date         DATE NOT NULL,
	due_date           DATE,
	status             TEXT NOT NULL,
	is_partially_paid  BOOLEAN NOT NULL DEFAULT FALSE,
	amount_paid        NUMERIC(18, 2) NOT NULL DEFAULT 0,
	original_amount    NUMERIC(18, 2) NOT NULL DEFAULT 0,
	reference          TEXT,
	source_system      TEXT NOT NULL,
	PRIMARY KEY (counterparty, transaction_number)
)`

const selectHistory = `
SELECT transaction_number, transaction_type, amount, issue_date, due_date, status,
	is_partially_paid, amount_paid, original_amount, reference, counterparty, source_system
FROM ar_history
WHERE counterparty = $1
ORDER BY issue_date, transaction_number`

const upsertHistory = `
INSERT INTO ar_history (
	counterparty, transaction_number, transaction_type, amount, issue_date, due_date, status,
	is_partially_paid, amount_paid, original_amount, reference, source_system
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (counterparty, transaction_number) DO UPDATE SET
	transaction_type = EXCLUDED.transaction_type,
	amount = EXCLUDED.amount,
	issue_date = EXCLUDED.issue_date,
	due_date = EXCLUDED.due_date,
	status = EXCLUDED.status,
	is_partially_paid = EXCLUDED.is_partially_paid,
	amount_paid = EXCLUDED.amount_paid,
	original_amount = EXCLUDED.original_amount,
	reference = EXCLUDED.reference,
	source_system = EXCLUDED.source_system`

// PostgresStore reads historical receivables from the ar_history table.
// Counterparties are stored in their canonical key form.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to the database at dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.InvalidConfigurationError("history.postgres_dsn", "<redacted>", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ReconciliationError(errors.CodeHistoryLookup, "postgres_connect", err)
	}
	return NewPostgresStore(db), nil
}

// EnsureSchema creates the ar_history table when it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createHistoryTable)
	return err
}

// Close closes the underlying database handle
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Lookup returns the records of counterparty ordered by issue date and transaction number
func (s *PostgresStore) Lookup(ctx context.Context, counterparty string) ([]models.TransactionRecord, error) {
	ctx, span := otel.Tracer("ledgerlink/history").Start(ctx, "history.postgres.Lookup")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, selectHistory, CounterpartyKey(counterparty))
	if err != nil {
		span.RecordError(err)
		return nil, lookupError(err, counterparty)
	}
	defer rows.Close()

	records := make([]models.TransactionRecord, 0)
	for rows.Next() {
		var (
			r         models.TransactionRecord
			dueDate   sql.NullTime
			reference sql.NullString
		)
		if err := rows.Scan(
			&r.TransactionNumber, &r.TransactionType, &r.Amount, &r.IssueDate, &dueDate, &r.Status,
			&r.IsPartiallyPaid, &r.AmountPaid, &r.OriginalAmount, &reference, &r.Counterparty, &r.SourceSystem,
		); err != nil {
			return nil, lookupError(err, counterparty)
		}

		r.IssueDate = models.TruncateToDate(r.IssueDate)
		if dueDate.Valid {
			due := models.TruncateToDate(dueDate.Time)
			r.DueDate = &due
		}
		r.Reference = reference.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, lookupError(err, counterparty)
	}

	span.AddEvent("History loaded", trace.WithAttributes(attribute.Int("records", len(records))))
	return records, nil
}

// Save upserts records for counterparty in a single transaction
func (s *PostgresStore) Save(ctx context.Context, counterparty string, records []models.TransactionRecord) error {
	ctx, span := otel.Tracer("ledgerlink/history").Start(ctx, "history.postgres.Save")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lookupError(err, counterparty)
	}

	key := CounterpartyKey(counterparty)
	for _, r := range records {
		var dueDate sql.NullTime
		if r.DueDate != nil {
			dueDate = sql.NullTime{Time: *r.DueDate, Valid: true}
		}
		reference := sql.NullString{String: r.Reference, Valid: r.Reference != ""}

		if _, err := tx.ExecContext(ctx, upsertHistory,
			key, r.TransactionNumber, string(r.TransactionType), r.Amount.StringFixed(2), r.IssueDate, dueDate,
			string(r.Status), r.IsPartiallyPaid, r.AmountPaid.StringFixed(2), r.OriginalAmount.StringFixed(2),
			reference, string(r.SourceSystem),
		); err != nil {
			_ = tx.Rollback()
			span.RecordError(err)
			return lookupError(err, counterparty)
		}
	}

	if err := tx.Commit(); err != nil {
		return lookupError(err, counterparty)
	}
	return nil
}

func lookupError(err error, counterparty string) error {
	rerr := errors.ReconciliationError(errors.CodeHistoryLookup, "postgres_lookup", err).
		WithContext("counterparty", counterparty)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		rerr = rerr.WithSuggestion("create the ar_history table, for example with EnsureSchema")
	}
	return rerr
}
