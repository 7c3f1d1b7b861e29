package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru       *lru.Cache[string, struct{}]
	evictions int64

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// When set, tier 2 is skipped. Used during log replay: every replayed
	// event is already a row in the event log, so the DB tier would report
	// all of them as duplicates and the replay would apply nothing.
	bypassDB bool

	// Metrics
	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		panic(fmt.Sprintf("idempotency LRU init failed: %v", err))
	}

	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate checks if event has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", eventType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(compositeKey) {
		ic.metrics.RecordDuplicate(eventType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil && !ic.bypassDB {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Log error but don't fail - conservative: assume not duplicate
			// This prevents a DB issue from blocking event processing
			ic.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			ic.metrics.RecordDuplicate(eventType, "postgres")
			// Add to LRU so we don't hit DB again
			ic.add(compositeKey)
			return true
		}
	}

	return false
}

// SetBypassDB toggles the Postgres tier on or off.
func (ic *IdempotencyChecker) SetBypassDB(bypass bool) {
	ic.bypassDB = bypass
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.add(fmt.Sprintf("%s:%s", eventType, idempotencyKey))
}

func (ic *IdempotencyChecker) add(compositeKey string) {
	if ic.lru.Add(compositeKey, struct{}{}) {
		ic.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU. On restart,
// recent idempotency keys are loaded from Postgres so recently processed
// events skip the cold-path DB lookup.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if ic.lru.Contains(key) {
			continue
		}
		ic.add(key)
	}
}

// Keys returns all composite keys currently cached (oldest first)
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

// Size returns current number of entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

// Evictions returns total evictions (for metrics)
func (ic *IdempotencyChecker) Evictions() int64 {
	return ic.evictions
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // event_type -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(eventType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[eventType]++
	} else {
		m.duplicatesPostgres[eventType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(eventType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[eventType], m.duplicatesPostgres[eventType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
