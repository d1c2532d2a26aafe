package marketcache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func constantTTL(d time.Duration) func(Category) time.Duration {
	return func(Category) time.Duration { return d }
}

func TestDiskStore_PersistLoadRoundTrip(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(1_700_000_000_000))
	ds, err := newDiskStore(t.TempDir(), 0, clock)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}

	now := clock.Now()
	want := &entry{
		key:        "quote:SOL",
		category:   CategoryTokenPrice,
		payload:    []byte(`{"price":172.4}`),
		size:       15,
		insertedAt: now,
		lastAccess: now,
	}

	if err := ds.persist(want); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	entries, dropped := ds.loadAll(constantTTL(time.Hour))
	if dropped != 0 {
		t.Errorf("unexpected dropped entries: %d", dropped)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.key != want.key {
		t.Errorf("key mismatch: got %s, want %s", got.key, want.key)
	}
	if got.category != want.category {
		t.Errorf("category mismatch: got %s, want %s", got.category, want.category)
	}
	if !bytes.Equal(got.payload, want.payload) {
		t.Errorf("payload mismatch: got %q, want %q", got.payload, want.payload)
	}
	if !got.insertedAt.Equal(want.insertedAt) {
		t.Errorf("insertedAt mismatch: got %v, want %v", got.insertedAt, want.insertedAt)
	}
	if !got.recovered {
		t.Error("loaded entry must be tagged as recovered from disk")
	}
}

func TestDiskStore_CompressedRoundTrip(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(1_700_000_000_000))
	ds, err := newDiskStore(t.TempDir(), 3, clock)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}

	// Repetitive payload well above the compression floor.
	payload := bytes.Repeat([]byte("solana-price-history "), 200)
	now := clock.Now()
	e := &entry{
		key:        "history:SOL",
		category:   CategoryUserData,
		payload:    payload,
		size:       int64(len(payload)),
		insertedAt: now,
		lastAccess: now,
	}

	if err := ds.persist(e); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	entries, _ := ds.loadAll(constantTTL(time.Hour))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !bytes.Equal(entries[0].payload, payload) {
		t.Error("compressed payload did not round trip")
	}
	if entries[0].size != int64(len(payload)) {
		t.Errorf("size must reflect the uncompressed payload: got %d, want %d",
			entries[0].size, len(payload))
	}
}

func TestDiskStore_ExpiredEntriesDroppedOnLoad(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(1_700_000_000_000))
	ds, err := newDiskStore(t.TempDir(), 0, clock)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}

	now := clock.Now()
	stale := &entry{key: "stale", category: CategoryTokenPrice, payload: []byte("x"), size: 1, insertedAt: now, lastAccess: now}
	fresh := &entry{key: "fresh", category: CategoryTokenPrice, payload: []byte("y"), size: 1, insertedAt: now.Add(50 * time.Minute), lastAccess: now.Add(50 * time.Minute)}

	if err := ds.persist(stale); err != nil {
		t.Fatal(err)
	}
	if err := ds.persist(fresh); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Hour)

	entries, dropped := ds.loadAll(constantTTL(30 * time.Minute))
	if dropped != 1 {
		t.Errorf("expected 1 dropped entry, got %d", dropped)
	}
	if len(entries) != 1 || entries[0].key != "fresh" {
		t.Fatalf("expected only fresh to survive, got %v", entries)
	}

	// The expired file is gone for good.
	entries, dropped = ds.loadAll(constantTTL(time.Hour))
	if len(entries) != 1 || dropped != 0 {
		t.Errorf("expired file should have been deleted: entries=%d dropped=%d", len(entries), dropped)
	}
}

func TestDiskStore_CorruptFileDegradesToDrop(t *testing.T) {
	dir := t.TempDir()
	clock := NewManualClock(time.UnixMilli(1_700_000_000_000))
	ds, err := newDiskStore(dir, 0, clock)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "deadbeef.json"), []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, dropped := ds.loadAll(constantTTL(time.Hour))
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped entry, got %d", dropped)
	}
	if _, err := os.Stat(filepath.Join(dir, "deadbeef.json")); !os.IsNotExist(err) {
		t.Error("corrupt file should have been removed")
	}
}

func TestDiskStore_LoadOrderIsMostRecentFirst(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(1_700_000_000_000))
	ds, err := newDiskStore(t.TempDir(), 0, clock)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}

	base := clock.Now()
	for i, key := range []string{"old", "mid", "new"} {
		at := base.Add(time.Duration(i) * time.Minute)
		e := &entry{key: key, category: CategoryTokenInfo, payload: []byte(key), size: int64(len(key)), insertedAt: at, lastAccess: at}
		if err := ds.persist(e); err != nil {
			t.Fatal(err)
		}
	}

	entries, _ := ds.loadAll(constantTTL(time.Hour))
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if entries[i].key != want {
			t.Errorf("entry %d: got %s, want %s", i, entries[i].key, want)
		}
	}
}

func TestDiskStore_RemoveAndClear(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(1_700_000_000_000))
	ds, err := newDiskStore(t.TempDir(), 0, clock)
	if err != nil {
		t.Fatalf("newDiskStore failed: %v", err)
	}

	now := clock.Now()
	for _, key := range []string{"quote:SOL", "quote:ETH", "info:SOL"} {
		e := &entry{key: key, category: CategoryTokenInfo, payload: []byte(key), size: int64(len(key)), insertedAt: now, lastAccess: now}
		if err := ds.persist(e); err != nil {
			t.Fatal(err)
		}
	}

	ds.remove("quote:SOL")
	if entries, _ := ds.loadAll(constantTTL(time.Hour)); len(entries) != 2 {
		t.Errorf("expected 2 entries after remove, got %d", len(entries))
	}

	if removed := ds.removePrefix("quote:"); removed != 1 {
		t.Errorf("removePrefix: got %d, want 1", removed)
	}

	if err := ds.clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if entries, _ := ds.loadAll(constantTTL(time.Hour)); len(entries) != 0 {
		t.Errorf("expected empty store after clear, got %d entries", len(entries))
	}
}
