package history

import (
	"context"
	"sort"
	"sync"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/internal/normalizer"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// MemoryStore keeps historical receivables in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.TransactionRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]models.TransactionRecord)}
}

// Save stores records for a counterparty, replacing records with the same
// transaction number
func (s *MemoryStore) Save(ctx context.Context, counterparty string, records []models.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, "history_save", err)
	}
	key := CounterpartyKey(counterparty)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = merge(s.records[key], records)
	return nil
}

// Lookup returns a sorted copy of the records stored for counterparty
func (s *MemoryStore) Lookup(_ context.Context, counterparty string) ([]models.TransactionRecord, error) {
	s.mu.RLock()
	stored := s.records[CounterpartyKey(counterparty)]
	records := append([]models.TransactionRecord(nil), stored...)
	s.mu.RUnlock()

	SortRecords(records)
	return records, nil
}

// Counterparties returns the canonical keys of every stored counterparty in
// sorted order. Each key is a valid Lookup argument.
func (s *MemoryStore) Counterparties() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, records := range s.records {
		n += len(records)
	}
	return n
}

// LoadOptions control how a history CSV export is read
type LoadOptions struct {
	DateFormat normalizer.DateFormat
	Mapping    *normalizer.CSVMapping
	// DefaultCounterparty is used for rows without a counterparty column value
	DefaultCounterparty string
}

// LoadCSV reads a CSV export of historical receivables into a new MemoryStore.
// Rows that fail normalization are skipped and returned in the batch.
func LoadCSV(ctx context.Context, path string, opts LoadOptions) (*MemoryStore, *normalizer.Batch, error) {
	log := logger.GetGlobalLogger().WithComponent("history")

	rows, err := normalizer.NewCSVReader(nil).ReadFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	batch, err := normalizer.New(log).NormalizeRows(rows, normalizer.Options{
		Source:     models.SourceCSV,
		Side:       models.SideReceivable,
		DateFormat: opts.DateFormat,
		Mapping:    opts.Mapping,
	})
	if err != nil {
		return nil, nil, err
	}

	grouped := make(map[string][]models.TransactionRecord)
	for _, record := range batch.Records {
		counterparty := record.Counterparty
		if counterparty == "" {
			counterparty = opts.DefaultCounterparty
		}
		grouped[counterparty] = append(grouped[counterparty], record)
	}

	store := NewMemoryStore()
	for counterparty, records := range grouped {
		if err := store.Save(ctx, counterparty, records); err != nil {
			return nil, nil, err
		}
	}

	log.WithFields(logger.Fields{
		"file_path": path,
		"records":   store.Len(),
		"rejected":  batch.Stats.Rejected,
	}).Info("Loaded historical receivables")

	return store, batch, nil
}
