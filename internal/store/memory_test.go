package store

import (
	"errors"
	"testing"
	"time"

	"github.com/i474232898/airq-calibration/internal/airq"
)

func entry(records int) airq.CacheEntry {
	return airq.CacheEntry{
		Dataset:   airq.Dataset{Count: records},
		FetchedAt: time.Now(),
	}
}

func TestDeviceCacheRejectsStaleCommit(t *testing.T) {
	c := NewDeviceCache(0)

	older := c.Begin("Aire2")
	newer := c.Begin("Aire2")

	if !c.Commit("Aire2", newer, entry(2)) {
		t.Fatalf("newest generation must be accepted")
	}
	if c.Commit("Aire2", older, entry(1)) {
		t.Fatalf("older generation must be rejected")
	}

	got, err := c.Get("Aire2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Dataset.Count != 2 || got.Generation != newer {
		t.Fatalf("expected the newer entry, got %+v", got)
	}
}

func TestDeviceCacheRejectsUnissuedGeneration(t *testing.T) {
	c := NewDeviceCache(0)
	if c.Commit("Aire2", 5, entry(1)) {
		t.Fatalf("a generation never handed out must be rejected")
	}
	if _, err := c.Get("Aire2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeviceCacheMaxAge(t *testing.T) {
	c := NewDeviceCache(time.Hour)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	gen := c.Begin("Aire4")
	e := entry(3)
	e.FetchedAt = now.Add(-30 * time.Minute)
	c.Commit("Aire4", gen, e)

	if _, err := c.Get("Aire4"); err != nil {
		t.Fatalf("fresh entry must be returned, got %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := c.Get("Aire4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry must be reported missing, got %v", err)
	}
}

func TestDeviceCacheInvalidate(t *testing.T) {
	c := NewDeviceCache(0)

	inFlight := c.Begin("Aire5")
	c.Invalidate("Aire5")
	if c.Commit("Aire5", inFlight, entry(1)) {
		t.Fatalf("a request issued before invalidation must be rejected")
	}

	gen := c.Begin("Aire5")
	if !c.Commit("Aire5", gen, entry(4)) {
		t.Fatalf("a request issued after invalidation must be accepted")
	}
	if got := c.Devices(); len(got) != 1 || got[0] != "Aire5" {
		t.Fatalf("unexpected devices %v", got)
	}

	c.Invalidate("Aire5")
	if _, err := c.Get("Aire5"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after invalidation, got %v", err)
	}
	if got := c.Devices(); len(got) != 0 {
		t.Fatalf("expected no devices, got %v", got)
	}
}
