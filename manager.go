package marketcache

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// entriesDirName is the subdirectory holding persisted entries.
const entriesDirName = "entries"

// Manager is the sole public surface of the cache. It coordinates the entry
// store, TTL policy, statistics and durability layer behind a single
// reader-writer lock, so any number of callers may use it concurrently
// without their own locking.
type Manager struct {
	mu     sync.RWMutex
	store  *entryStore
	stats  *statsCollector
	policy TTLPolicy

	policyPath string
	disk       *diskStore
	clock      Clock
}

// New creates a cache manager for the configured storage location. The TTL
// policy file is read once here, and previously persisted entries that are
// still within their TTL are recovered into memory. Zero sizing fields fall
// back to DefaultConfig values.
func New(cfg Config) (*Manager, error) {
	defaults := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = defaults.Dir
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("no cache directory configured")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = defaults.MaxSizeBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}

	disk, err := newDiskStore(filepath.Join(cfg.Dir, entriesDirName), cfg.CompressionLevel, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create durability layer: %w", err)
	}

	m := &Manager{
		store:      newEntryStore(cfg.MaxEntries, cfg.MaxSizeBytes),
		stats:      newStatsCollector(),
		policy:     loadPolicy(filepath.Join(cfg.Dir, policyFileName)),
		policyPath: filepath.Join(cfg.Dir, policyFileName),
		disk:       disk,
		clock:      cfg.Clock,
	}

	m.recoverFromDisk()

	return m, nil
}

// recoverFromDisk fills the store with surviving persisted entries, most
// recently accessed first, staying within the store's bounds.
func (m *Manager) recoverFromDisk() {
	entries, dropped := m.disk.loadAll(m.policy.ttlFor)
	m.stats.recordDiskMisses(dropped)

	kept := make([]*entry, 0, len(entries))
	var size int64
	for _, e := range entries {
		if len(kept) >= m.store.maxEntries {
			break
		}
		if m.store.maxBytes > 0 && size+e.size > m.store.maxBytes {
			break
		}
		kept = append(kept, e)
		size += e.size
	}

	// Insert oldest first so the recency list matches access order.
	for i := len(kept) - 1; i >= 0; i-- {
		m.store.upsert(kept[i])
	}

	if len(kept) > 0 || dropped > 0 {
		log.Debug("Recovered cache entries from disk",
			"recovered", len(kept), "dropped", dropped)
	}
}

// Get returns the payload cached under key, refreshing its recency. An
// entry older than its category's TTL counts as a miss and is removed,
// along with its persisted file.
func (m *Manager) Get(key string, category Category) ([]byte, bool) {
	m.mu.Lock()

	e, ok := m.store.get(key)
	if !ok {
		m.stats.recordMiss(category)
		m.mu.Unlock()
		return nil, false
	}

	now := m.clock.Now()
	if age := now.Sub(e.insertedAt); age > m.policy.ttlFor(e.category) {
		m.store.remove(key)
		m.stats.recordMiss(category)
		m.mu.Unlock()

		m.disk.remove(key)
		return nil, false
	}

	m.store.touch(key, now)

	firstRecovered := e.recovered && !e.diskHitDone
	if firstRecovered {
		e.diskHitDone = true
	}
	m.stats.recordHit(e.category, firstRecovered)

	payload := e.payload
	m.mu.Unlock()

	return payload, true
}

// Set caches payload under key with write-through persistence. The
// in-memory write always takes effect; a persistence failure is logged and
// returned so the caller can decide how much to trust durability.
func (m *Manager) Set(key string, payload []byte, category Category) error {
	if key == "" {
		return ErrEmptyKey
	}
	size := int64(len(payload))
	if m.store.maxBytes > 0 && size > m.store.maxBytes {
		return ErrPayloadTooLarge
	}

	now := m.clock.Now()
	e := &entry{
		key:        key,
		category:   category,
		payload:    payload,
		size:       size,
		insertedAt: now,
		lastAccess: now,
	}

	m.mu.Lock()
	evicted := m.store.upsert(e)
	for range evicted {
		m.stats.recordEviction()
	}
	m.mu.Unlock()

	for _, ev := range evicted {
		m.disk.remove(ev.key)
	}

	if err := m.disk.persist(e); err != nil {
		log.Error("Failed to persist cache entry", "key", key, "err", err)
		return fmt.Errorf("cache entry stored in memory only: %w", err)
	}

	return nil
}

// Clear empties the cache, resets every statistics counter and truncates
// the persisted entries, so a restart after Clear starts empty.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.store.clear()
	m.stats.reset()
	m.mu.Unlock()

	if err := m.disk.clear(); err != nil {
		log.Error("Failed to clear persisted cache entries", "err", err)
		return fmt.Errorf("cache cleared in memory only: %w", err)
	}

	return nil
}

// PurgePrefix removes every entry whose key starts with prefix, in memory
// and on disk, and returns the number of in-memory entries removed.
func (m *Manager) PurgePrefix(prefix string) int {
	m.mu.Lock()
	removed := 0
	for _, key := range m.store.keys() {
		if strings.HasPrefix(key, prefix) {
			m.store.remove(key)
			removed++
		}
	}
	m.mu.Unlock()

	m.disk.removePrefix(prefix)

	return removed
}

// Policy returns the active TTL policy.
func (m *Manager) Policy() TTLPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.policy
}

// UpdatePolicy replaces the TTL policy after validating every field against
// [MinTTL, MaxTTL]; one invalid field rejects the whole update. The
// in-memory policy applies immediately; a failure to persist it is logged
// and returned without rolling back.
func (m *Manager) UpdatePolicy(policy TTLPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.policy = policy
	m.mu.Unlock()

	if err := savePolicy(m.policyPath, policy); err != nil {
		log.Error("Failed to persist TTL policy", "path", m.policyPath, "err", err)
		return fmt.Errorf("policy updated in memory only: %w", err)
	}

	return nil
}

// ResetPolicy restores and persists the hard-coded default policy.
func (m *Manager) ResetPolicy() (TTLPolicy, error) {
	defaults := DefaultTTLPolicy()
	if err := m.UpdatePolicy(defaults); err != nil {
		return defaults, err
	}
	return defaults, nil
}

// Stats returns a snapshot of the cache statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats.snapshot(m.store)
}

// Keys returns the keys currently cached in memory.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.store.keys()
}

// TopKeys returns up to limit keys ordered by access count, most used
// first.
func (m *Manager) TopKeys(limit int) []string {
	type keyCount struct {
		key   string
		count uint64
	}

	m.mu.RLock()
	ranked := make([]keyCount, 0, m.store.length())
	for _, e := range m.store.all() {
		ranked = append(ranked, keyCount{e.key, e.accessCount})
	}
	m.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].count > ranked[j].count
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	keys := make([]string, 0, limit)
	for _, kc := range ranked[:limit] {
		keys = append(keys, kc.key)
	}

	return keys
}

// Warm populates the cache for the given keys using the caller-supplied
// fetcher. Fetch or store failures are logged and skipped; the report says
// how many keys completed.
func (m *Manager) Warm(keys []string, fetch func(key string) ([]byte, Category, error)) WarmReport {
	completed := 0
	for _, key := range keys {
		payload, category, err := fetch(key)
		if err != nil {
			log.Warn("Failed to warm cache key", "key", key, "err", err)
			continue
		}
		if err := m.Set(key, payload, category); err != nil {
			log.Warn("Failed to store warmed cache key", "key", key, "err", err)
			continue
		}
		completed++
	}

	m.mu.Lock()
	m.stats.recordWarm(completed, m.clock.Now())
	m.mu.Unlock()

	report := WarmReport{
		Total:     len(keys),
		Completed: completed,
	}
	if report.Total > 0 {
		report.Percentage = float64(completed) / float64(report.Total) * 100
	} else {
		report.Percentage = 100
	}

	return report
}

// Dir returns the cache's storage location.
func (m *Manager) Dir() string {
	return filepath.Dir(m.policyPath)
}
