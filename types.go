package marketcache

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
)

// Common errors for cache operations
var (
	// ErrPayloadTooLarge is returned when a payload exceeds the configured size budget
	ErrPayloadTooLarge = errors.New("payload too large for cache")

	// ErrEmptyKey is returned when an empty cache key is supplied
	ErrEmptyKey = errors.New("empty cache key")
)

// Category classifies a cached payload and selects its TTL group.
type Category int

const (
	// CategoryTokenPrice holds live price quotes (fast moving)
	CategoryTokenPrice Category = iota

	// CategoryTokenInfo holds token metadata
	CategoryTokenInfo

	// CategoryMarketData holds aggregate market data
	CategoryMarketData

	// CategoryTopCoins holds top-coin listings
	CategoryTopCoins

	// CategoryTrendingCoins holds trending-coin listings
	CategoryTrendingCoins

	// CategoryUserData holds per-user historical data (slow changing)
	CategoryUserData
)

var categoryNames = [...]string{
	"tokenPrice",
	"tokenInfo",
	"marketData",
	"topCoins",
	"trendingCoins",
	"userData",
}

// String returns the string representation of the category.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// ParseCategory parses a category from its string form.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cache category %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(categoryNames) {
		return nil, fmt.Errorf("unknown cache category %d", int(c))
	}
	return []byte(categoryNames[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CategoryStats holds per-category cache metrics.
type CategoryStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hitRate"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
}

// Stats holds aggregate cache performance metrics.
type Stats struct {
	// Performance metrics
	Hits      uint64  `json:"totalHits"`
	Misses    uint64  `json:"totalMisses"`
	HitRate   float64 `json:"hitRate"` // hits / (hits + misses), 0 when undefined
	Evictions uint64  `json:"totalEvictions"`

	// Current state
	Entries   int   `json:"totalEntries"`
	SizeBytes int64 `json:"totalSizeBytes"`

	// Durability metrics
	DiskHits   uint64 `json:"diskHits"`   // first reads served by restart-recovered entries
	DiskMisses uint64 `json:"diskMisses"` // persisted entries unrecoverable at startup

	// Warmup metrics
	WarmLoads  uint64    `json:"warmLoads"`
	LastWarmed time.Time `json:"lastWarmed"`

	PerCategory map[string]CategoryStats `json:"perCategoryStats"`
}

// WarmReport describes the outcome of a cache warmup run.
type WarmReport struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Percentage float64 `json:"percentage"`
}

// Config holds configuration for a cache Manager.
type Config struct {
	// Dir is the storage location for the policy file and persisted entries.
	Dir string `env:"MARKETCACHE_DIR"`

	// MaxEntries bounds the in-memory store by entry count.
	MaxEntries int `env:"MARKETCACHE_MAX_ENTRIES" envDefault:"2000"`

	// MaxSizeBytes bounds the in-memory store by total payload size.
	MaxSizeBytes int64 `env:"MARKETCACHE_MAX_SIZE_BYTES" envDefault:"52428800"`

	// CompressionLevel is the zstd level for persisted payloads (0 disables).
	CompressionLevel int `env:"MARKETCACHE_COMPRESSION_LEVEL" envDefault:"3"`

	// Clock supplies current time; nil selects the system clock.
	Clock Clock `env:"-"`
}

// DefaultConfig returns the default cache configuration. The storage
// directory resolves to the user cache dir for the application.
func DefaultConfig() Config {
	cfg := Config{
		MaxEntries:       2000,
		MaxSizeBytes:     50 * 1024 * 1024, // 50MB
		CompressionLevel: 3,                // Balanced compression
	}

	scope := gap.NewScope(gap.User, "quotedeck")
	if dir, err := scope.CacheDir(); err == nil {
		cfg.Dir = filepath.Join(dir, "market")
	}

	return cfg
}

// ConfigFromEnv returns the default configuration with MARKETCACHE_*
// environment overrides applied.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse cache environment config: %w", err)
	}
	return cfg, nil
}
