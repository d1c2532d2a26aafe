package marketcache

import "time"

// categoryTally accumulates hit/miss counts for one category.
type categoryTally struct {
	hits   uint64
	misses uint64
}

// statsCollector accumulates cache usage counters. It is guarded by the
// Manager's lock alongside the entry store.
type statsCollector struct {
	hits       uint64
	misses     uint64
	evictions  uint64
	diskHits   uint64
	diskMisses uint64
	warmLoads  uint64
	lastWarmed time.Time

	perCategory map[Category]*categoryTally
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		perCategory: make(map[Category]*categoryTally),
	}
}

func (sc *statsCollector) tally(c Category) *categoryTally {
	t, ok := sc.perCategory[c]
	if !ok {
		t = &categoryTally{}
		sc.perCategory[c] = t
	}
	return t
}

// recordHit counts a hit. firstRecovered marks the first in-process read of
// a restart-recovered entry, which additionally counts as a disk hit.
func (sc *statsCollector) recordHit(c Category, firstRecovered bool) {
	sc.hits++
	sc.tally(c).hits++
	if firstRecovered {
		sc.diskHits++
	}
}

func (sc *statsCollector) recordMiss(c Category) {
	sc.misses++
	sc.tally(c).misses++
}

func (sc *statsCollector) recordEviction() {
	sc.evictions++
}

// recordDiskMisses counts persisted entries that could not be recovered at
// startup (expired or unreadable).
func (sc *statsCollector) recordDiskMisses(n int) {
	sc.diskMisses += uint64(n)
}

func (sc *statsCollector) recordWarm(completed int, now time.Time) {
	sc.warmLoads += uint64(completed)
	sc.lastWarmed = now
}

// reset zeroes every counter.
func (sc *statsCollector) reset() {
	*sc = statsCollector{
		perCategory: make(map[Category]*categoryTally),
	}
}

// snapshot derives a Stats value from the counters and the current store
// contents.
func (sc *statsCollector) snapshot(store *entryStore) Stats {
	stats := Stats{
		Hits:        sc.hits,
		Misses:      sc.misses,
		Evictions:   sc.evictions,
		Entries:     store.length(),
		SizeBytes:   store.totalSize(),
		DiskHits:    sc.diskHits,
		DiskMisses:  sc.diskMisses,
		WarmLoads:   sc.warmLoads,
		LastWarmed:  sc.lastWarmed,
		PerCategory: make(map[string]CategoryStats, len(sc.perCategory)),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	for c, t := range sc.perCategory {
		cs := stats.PerCategory[c.String()]
		cs.Hits = t.hits
		cs.Misses = t.misses
		if total := t.hits + t.misses; total > 0 {
			cs.HitRate = float64(t.hits) / float64(total)
		}
		stats.PerCategory[c.String()] = cs
	}

	for _, e := range store.all() {
		cs := stats.PerCategory[e.category.String()]
		cs.Entries++
		cs.SizeBytes += e.size
		stats.PerCategory[e.category.String()] = cs
	}

	return stats
}
