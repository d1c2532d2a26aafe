package marketcache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTTLPolicy_Defaults(t *testing.T) {
	policy := DefaultTTLPolicy()

	if policy.Prices != time.Second {
		t.Errorf("default prices TTL: got %s, want 1s", policy.Prices)
	}
	if policy.Metadata != time.Hour {
		t.Errorf("default metadata TTL: got %s, want 1h", policy.Metadata)
	}
	if policy.History != 24*time.Hour {
		t.Errorf("default history TTL: got %s, want 24h", policy.History)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestTTLPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		policy TTLPolicy
		field  string
	}{
		{
			name:   "prices below minimum",
			policy: TTLPolicy{Prices: 50 * time.Millisecond, Metadata: time.Hour, History: time.Hour},
			field:  "prices",
		},
		{
			name:   "metadata above maximum",
			policy: TTLPolicy{Prices: time.Second, Metadata: 8 * 24 * time.Hour, History: time.Hour},
			field:  "metadata",
		},
		{
			name:   "history zero",
			policy: TTLPolicy{Prices: time.Second, Metadata: time.Hour, History: 0},
			field:  "history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}

			var rangeErr *PolicyRangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("expected PolicyRangeError, got %T", err)
			}
			if rangeErr.Field != tt.field {
				t.Errorf("wrong field reported: got %s, want %s", rangeErr.Field, tt.field)
			}
		})
	}

	bounds := TTLPolicy{Prices: MinTTL, Metadata: MaxTTL, History: time.Hour}
	if err := bounds.Validate(); err != nil {
		t.Errorf("bounds are inclusive: %v", err)
	}
}

func TestTTLPolicy_JSONMilliseconds(t *testing.T) {
	policy := DefaultTTLPolicy()

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if raw["prices"] != 1000 {
		t.Errorf("prices ms: got %d, want 1000", raw["prices"])
	}
	if raw["metadata"] != 3_600_000 {
		t.Errorf("metadata ms: got %d, want 3600000", raw["metadata"])
	}
	if raw["history"] != 86_400_000 {
		t.Errorf("history ms: got %d, want 86400000", raw["history"])
	}

	var roundTrip TTLPolicy
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		t.Fatalf("round trip unmarshal failed: %v", err)
	}
	if roundTrip != policy {
		t.Errorf("round trip mismatch: got %+v, want %+v", roundTrip, policy)
	}
}

func TestLoadPolicy_MissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), policyFileName)

	policy := loadPolicy(path)

	if policy != DefaultTTLPolicy() {
		t.Errorf("expected defaults, got %+v", policy)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults should have been written back: %v", err)
	}
}

func TestLoadPolicy_CorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), policyFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if policy := loadPolicy(path); policy != DefaultTTLPolicy() {
		t.Errorf("expected defaults for corrupt file, got %+v", policy)
	}
}

func TestLoadPolicy_OutOfRangeFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), policyFileName)
	if err := os.WriteFile(path, []byte(`{"prices":1,"metadata":1,"history":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if policy := loadPolicy(path); policy != DefaultTTLPolicy() {
		t.Errorf("expected defaults for out-of-range file, got %+v", policy)
	}
}

func TestSavePolicy_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), policyFileName)
	want := TTLPolicy{
		Prices:   5 * time.Second,
		Metadata: 30 * time.Minute,
		History:  48 * time.Hour,
	}

	if err := savePolicy(path, want); err != nil {
		t.Fatalf("savePolicy failed: %v", err)
	}

	if got := loadPolicy(path); got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}
