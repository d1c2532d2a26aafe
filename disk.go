package marketcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

// compressionFloor is the minimum payload size worth compressing.
const compressionFloor = 1024

// diskStore is the durability layer. Every entry is written through to its
// own JSON envelope so cached state survives restarts. File operations are
// serialized by an internal mutex held outside the Manager's lock, so disk
// I/O never stalls unrelated in-memory operations.
type diskStore struct {
	dir   string
	clock Clock

	// Compression
	compressionLevel int
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder

	// Serializes file operations
	mu sync.Mutex
}

// diskEntry is the persisted envelope for a cache entry.
type diskEntry struct {
	Key            string   `json:"key"`
	Category       Category `json:"category"`
	Payload        []byte   `json:"payload"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	LastAccessedMs int64    `json:"lastAccessedMs"`
	SizeBytes      int64    `json:"sizeBytes"`
	Compressed     bool     `json:"compressed"`
}

// newDiskStore creates the durability layer rooted at dir. A compression
// level above zero enables zstd for persisted payloads.
func newDiskStore(dir string, compressionLevel int, clock Clock) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &diskStore{
		dir:              dir,
		clock:            clock,
		compressionLevel: compressionLevel,
	}

	if compressionLevel > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}

		ds.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	return ds, nil
}

// persist durably stores an entry. The write goes to a temp file first and
// is renamed into place so readers never observe a partial envelope.
func (ds *diskStore) persist(e *entry) error {
	payload := e.payload
	compressed := false
	if ds.encoder != nil && len(payload) > compressionFloor {
		if c := ds.encoder.EncodeAll(payload, nil); len(c) < len(payload) {
			payload = c
			compressed = true
		}
	}

	data, err := json.Marshal(diskEntry{
		Key:            e.key,
		Category:       e.category,
		Payload:        payload,
		CreatedAtMs:    e.insertedAt.UnixMilli(),
		LastAccessedMs: e.lastAccess.UnixMilli(),
		SizeBytes:      e.size,
		Compressed:     compressed,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry %q: %w", e.key, err)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	return ds.writeFile(ds.entryPath(e.key), data)
}

// loadAll reads every persisted entry, dropping (and deleting) expired or
// unparsable files. Survivors are returned most recently accessed first,
// tagged as recovered from disk. Any directory-level failure degrades to an
// empty result rather than an error.
func (ds *diskStore) loadAll(ttlFor func(Category) time.Duration) (entries []*entry, dropped int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	dirEntries, err := os.ReadDir(ds.dir)
	if err != nil {
		log.Warn("Failed to read cache directory, starting empty", "dir", ds.dir, "err", err)
		return nil, 0
	}

	now := ds.clock.Now()
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(ds.dir, de.Name())

		e, err := ds.readEntry(path, now, ttlFor)
		if err != nil {
			log.Debug("Dropping unrecoverable cache entry", "path", path, "err", err)
			os.Remove(path)
			dropped++
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.After(entries[j].lastAccess)
	})

	return entries, dropped
}

// readEntry parses and validates one envelope (must be called with lock held).
func (ds *diskStore) readEntry(path string, now time.Time, ttlFor func(Category) time.Duration) (*entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var envelope diskEntry
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry: %w", err)
	}

	insertedAt := time.UnixMilli(envelope.CreatedAtMs)
	if age := now.Sub(insertedAt); age > ttlFor(envelope.Category) {
		return nil, fmt.Errorf("entry expired %s ago", age-ttlFor(envelope.Category))
	}

	payload := envelope.Payload
	if envelope.Compressed {
		if ds.decoder == nil {
			return nil, fmt.Errorf("compressed entry but compression disabled")
		}
		payload, err = ds.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress cache entry: %w", err)
		}
	}

	lastAccess := time.UnixMilli(envelope.LastAccessedMs)
	if lastAccess.Before(insertedAt) {
		lastAccess = insertedAt
	}

	return &entry{
		key:        envelope.Key,
		category:   envelope.Category,
		payload:    payload,
		size:       int64(len(payload)),
		insertedAt: insertedAt,
		lastAccess: lastAccess,
		recovered:  true,
	}, nil
}

// remove deletes the persisted file for key, if any.
func (ds *diskStore) remove(key string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	path := ds.entryPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to remove persisted cache entry", "path", path, "err", err)
	}
}

// removePrefix deletes every persisted entry whose key starts with prefix.
func (ds *diskStore) removePrefix(prefix string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	dirEntries, err := os.ReadDir(ds.dir)
	if err != nil {
		log.Warn("Failed to read cache directory for purge", "dir", ds.dir, "err", err)
		return 0
	}

	removed := 0
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(ds.dir, de.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var envelope diskEntry
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		if strings.HasPrefix(envelope.Key, prefix) {
			if err := os.Remove(path); err != nil {
				log.Warn("Failed to remove persisted cache entry", "path", path, "err", err)
				continue
			}
			removed++
		}
	}

	return removed
}

// clear deletes every persisted entry.
func (ds *diskStore) clear() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	dirEntries, err := os.ReadDir(ds.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	var firstErr error
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(ds.dir, de.Name())); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove persisted cache entry: %w", err)
		}
	}

	return firstErr
}

// entryPath derives the envelope path for a key.
func (ds *diskStore) entryPath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(ds.dir, hex.EncodeToString(hash[:16])+".json")
}

// writeFile writes data to path via a temp file and atomic rename (must be
// called with lock held).
func (ds *diskStore) writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace cache entry: %w", err)
	}

	return nil
}
