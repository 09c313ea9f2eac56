package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/airq-calibration/internal/airq"
)

var (
	// ErrNotFound is returned when no dataset is cached for a device.
	ErrNotFound = errors.New("no cached data for device")
)

type slot struct {
	// latest generation handed out by Begin
	issued uint64
	// newest generation accepted, including invalidations
	committed uint64
	entry     airq.CacheEntry
	present   bool
}

// DeviceCache is a concurrency-safe in-memory cache of device datasets.
// Writes are guarded by request generations so a slow response can never
// overwrite a newer one.
type DeviceCache struct {
	mu sync.RWMutex

	// key: device name
	data map[string]*slot

	// optional max age for entries
	maxAge time.Duration
	now    func() time.Time
}

var _ airq.Cache = (*DeviceCache)(nil)

// NewDeviceCache creates a new DeviceCache.
// If maxAge is <= 0, entries never expire.
func NewDeviceCache(maxAge time.Duration) *DeviceCache {
	return &DeviceCache{
		data:   make(map[string]*slot),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (s *DeviceCache) slotFor(device string) *slot {
	sl, ok := s.data[device]
	if !ok {
		sl = &slot{}
		s.data[device] = sl
	}
	return sl
}

// Begin hands out a new, strictly increasing generation for device.
func (s *DeviceCache) Begin(device string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotFor(device)
	sl.issued++
	return sl.issued
}

// Commit stores entry if generation is newer than the stored one.
func (s *DeviceCache) Commit(device string, generation uint64, entry airq.CacheEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotFor(device)
	if generation <= sl.committed || generation > sl.issued {
		return false
	}
	entry.Generation = generation
	sl.committed = generation
	sl.entry = entry
	sl.present = true
	return true
}

// Get returns the stored entry for device.
func (s *DeviceCache) Get(device string) (airq.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.data[device]
	if !ok || !sl.present {
		return airq.CacheEntry{}, ErrNotFound
	}
	if s.maxAge > 0 && s.now().Sub(sl.entry.FetchedAt) > s.maxAge {
		return airq.CacheEntry{}, ErrNotFound
	}
	return sl.entry, nil
}

// Invalidate drops the stored entry. Generations keep counting so responses
// to requests issued before the invalidation are still recognised as stale.
func (s *DeviceCache) Invalidate(device string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.data[device]; ok {
		sl.entry = airq.CacheEntry{}
		sl.present = false
		sl.committed = sl.issued
	}
}

// Devices lists the devices with a stored entry, sorted by name.
func (s *DeviceCache) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for name, sl := range s.data {
		if sl.present {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
