package core

import (
	"fmt"

	"BlueLedger/internal/observability"

	lru "github.com/hashicorp/golang-lru"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity, metrics),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func compositeKey(commandType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", commandType, idempotencyKey)
}

// IsDuplicate checks if a command has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) bool {
	key := compositeKey(commandType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(commandType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if err != nil {
			// A DB outage must not block processing; the unique index on
			// the event log still rejects the write.
			ic.recordDuplicate(commandType, "postgres_error")
			return false
		}

		if isDup {
			ic.recordDuplicate(commandType, "postgres")
			ic.lru.Add(key)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after processing
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(commandType, idempotencyKey))
}

// Warm loads composite keys into the LRU on restart
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

// Keys returns the LRU's keys, oldest first
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

// IdempotencyLRU is a bounded cache of composite idempotency keys
type IdempotencyLRU struct {
	cache   *lru.Cache
	metrics *observability.Metrics

	evictions int64
}

func NewIdempotencyLRU(capacity int, metrics *observability.Metrics) *IdempotencyLRU {
	l := &IdempotencyLRU{metrics: metrics}
	cache, err := lru.NewWithEvict(capacity, func(key, value interface{}) {
		l.evictions++
		if l.metrics != nil {
			l.metrics.DedupLRUEvictions.Inc()
		}
	})
	if err != nil {
		panic(fmt.Sprintf("FATAL: idempotency lru: %v", err))
	}
	l.cache = cache
	return l
}

// Contains checks if key exists and promotes it
func (l *IdempotencyLRU) Contains(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Add inserts a key (or promotes if exists)
func (l *IdempotencyLRU) Add(key string) {
	l.cache.Add(key, struct{}{})
	if l.metrics != nil {
		l.metrics.DedupLRUSize.Set(float64(l.cache.Len()))
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU
func (l *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if !l.cache.Contains(key) {
			l.cache.Add(key, struct{}{})
		}
	}
	if l.metrics != nil {
		l.metrics.DedupLRUSize.Set(float64(l.cache.Len()))
	}
}

// Keys returns the cached keys, oldest first
func (l *IdempotencyLRU) Keys() []string {
	raw := l.cache.Keys()
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, k.(string))
	}
	return out
}

// Size returns current number of entries
func (l *IdempotencyLRU) Size() int {
	return l.cache.Len()
}

// Evictions returns total evictions
func (l *IdempotencyLRU) Evictions() int64 {
	return l.evictions
}
