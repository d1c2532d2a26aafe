package marketcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// TTL bounds for every policy field.
const (
	MinTTL = 100 * time.Millisecond
	MaxTTL = 7 * 24 * time.Hour
)

// policyFileName is the policy file inside the cache storage directory.
const policyFileName = "cache_ttl.json"

// TTLPolicy maps payload categories to their maximum age. Price data moves
// fast, listings and metadata less so, and user history barely at all.
type TTLPolicy struct {
	Prices   time.Duration
	Metadata time.Duration
	History  time.Duration
}

// DefaultTTLPolicy returns the hard-coded default policy.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Prices:   time.Second,
		Metadata: time.Hour,
		History:  24 * time.Hour,
	}
}

// ttlFor returns the TTL for a category.
func (p TTLPolicy) ttlFor(c Category) time.Duration {
	switch c {
	case CategoryTokenPrice:
		return p.Prices
	case CategoryUserData:
		return p.History
	default:
		return p.Metadata
	}
}

// Validate checks every field against [MinTTL, MaxTTL]. The first
// out-of-range field fails the whole policy.
func (p TTLPolicy) Validate() error {
	for _, field := range []struct {
		name string
		ttl  time.Duration
	}{
		{"prices", p.Prices},
		{"metadata", p.Metadata},
		{"history", p.History},
	} {
		if field.ttl < MinTTL || field.ttl > MaxTTL {
			return &PolicyRangeError{Field: field.name, TTL: field.ttl}
		}
	}
	return nil
}

// PolicyRangeError reports a policy field outside the allowed TTL range.
type PolicyRangeError struct {
	Field string
	TTL   time.Duration
}

func (e *PolicyRangeError) Error() string {
	return fmt.Sprintf("ttl for %s must be between %s and %s, got %s",
		e.Field, MinTTL, MaxTTL, e.TTL)
}

// ttlPolicyJSON is the on-disk form of TTLPolicy, in milliseconds.
type ttlPolicyJSON struct {
	Prices   int64 `json:"prices"`
	Metadata int64 `json:"metadata"`
	History  int64 `json:"history"`
}

// MarshalJSON implements json.Marshaler.
func (p TTLPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(ttlPolicyJSON{
		Prices:   p.Prices.Milliseconds(),
		Metadata: p.Metadata.Milliseconds(),
		History:  p.History.Milliseconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *TTLPolicy) UnmarshalJSON(data []byte) error {
	var raw ttlPolicyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Prices = time.Duration(raw.Prices) * time.Millisecond
	p.Metadata = time.Duration(raw.Metadata) * time.Millisecond
	p.History = time.Duration(raw.History) * time.Millisecond

	return nil
}

// loadPolicy reads the policy file. A missing, unparsable or out-of-range
// file falls back to the defaults, which are written back so the file
// exists for the next start.
func loadPolicy(path string) TTLPolicy {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read TTL policy file, using defaults", "path", path, "err", err)
		}
		defaults := DefaultTTLPolicy()
		if err := savePolicy(path, defaults); err != nil {
			log.Warn("Failed to write default TTL policy file", "path", path, "err", err)
		}
		return defaults
	}

	var policy TTLPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		log.Warn("Failed to parse TTL policy file, using defaults", "path", path, "err", err)
		return DefaultTTLPolicy()
	}
	if err := policy.Validate(); err != nil {
		log.Warn("TTL policy file out of range, using defaults", "path", path, "err", err)
		return DefaultTTLPolicy()
	}

	return policy
}

// savePolicy writes the policy file atomically via a temp file and rename.
func savePolicy(path string, policy TTLPolicy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize TTL policy: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write TTL policy: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace TTL policy: %w", err)
	}

	return nil
}
