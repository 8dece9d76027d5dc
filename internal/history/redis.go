package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ledgerlink-reconciliation-service/internal/models"
	"ledgerlink-reconciliation-service/pkg/errors"
)

// KeyPrefix prefixes every history key written to Redis
const KeyPrefix = "ledgerlink:history:"

// localCacheSize is the number of entries kept in the in-process TinyLFU cache
const localCacheSize = 1024

// RedisStore keeps historical receivables in Redis as JSON documents, one per
// counterparty, with a small in-process cache in front
type RedisStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisStore creates a store on an existing client. A zero ttl uses the
// cache default of one hour; a negative ttl disables expiry.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		cache: cache.New(&cache.Options{
			Redis:      client,
			LocalCache: cache.NewTinyLFU(localCacheSize, time.Minute),
		}),
		ttl: ttl,
	}
}

// NewRedisStoreFromURL connects to the Redis instance at url
// (redis://[:password@]host:port[/db]) and creates a store on it
func NewRedisStoreFromURL(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.InvalidConfigurationError("history.redis_url", url, err)
	}
	return NewRedisStore(redis.NewClient(opts), ttl), nil
}

// Key returns the Redis key holding the records of counterparty
func Key(counterparty string) string {
	return KeyPrefix + CounterpartyKey(counterparty)
}

// Lookup returns the records stored for counterparty, sorted
func (s *RedisStore) Lookup(ctx context.Context, counterparty string) ([]models.TransactionRecord, error) {
	ctx, span := otel.Tracer("ledgerlink/history").Start(ctx, "history.redis.Lookup")
	defer span.End()

	records, err := s.load(ctx, Key(counterparty))
	if err != nil {
		span.RecordError(err)
		return nil, errors.ReconciliationError(errors.CodeHistoryLookup, "redis_lookup", err).
			WithContext("counterparty", counterparty)
	}

	SortRecords(records)
	span.AddEvent("History loaded", trace.WithAttributes(attribute.Int("records", len(records))))
	return records, nil
}

// Save merges records into those stored for counterparty
func (s *RedisStore) Save(ctx context.Context, counterparty string, records []models.TransactionRecord) error {
	ctx, span := otel.Tracer("ledgerlink/history").Start(ctx, "history.redis.Save")
	defer span.End()

	key := Key(counterparty)
	existing, err := s.load(ctx, key)
	if err != nil {
		return errors.ReconciliationError(errors.CodeHistoryLookup, "redis_save", err).
			WithContext("counterparty", counterparty)
	}

	data, err := json.Marshal(merge(existing, records))
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode_history", err)
	}

	if err := s.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   s.ttl,
	}); err != nil {
		return errors.ReconciliationError(errors.CodeHistoryLookup, "redis_save", err).
			WithContext("counterparty", counterparty)
	}
	return nil
}

// Delete removes the records stored for counterparty
func (s *RedisStore) Delete(ctx context.Context, counterparty string) error {
	err := s.cache.Delete(ctx, Key(counterparty))
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string) ([]models.TransactionRecord, error) {
	var data []byte
	err := s.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return []models.TransactionRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []models.TransactionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
