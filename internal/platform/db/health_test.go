package db

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPoolStatsJSONShape(t *testing.T) {
	raw, err := json.Marshal(PoolStats{
		TotalConns:      4,
		IdleConns:       1,
		AcquiredConns:   3,
		MaxConns:        10,
		AcquireCount:    250,
		AcquireDuration: "180ms",
		Healthy:         true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{
		"total_conns", "idle_conns", "acquired_conns",
		"max_conns", "acquire_count", "acquire_duration", "healthy",
	} {
		if !strings.Contains(string(raw), `"`+key+`"`) {
			t.Errorf("snapshot JSON missing %q: %s", key, raw)
		}
	}
}

func TestPoolStatsRoundTrip(t *testing.T) {
	in := PoolStats{TotalConns: 2, MaxConns: 8, AcquireDuration: "90ms", Healthy: true}
	raw, _ := json.Marshal(in)
	var out PoolStats
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
