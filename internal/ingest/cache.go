package ingest

import (
	"sync"
	"time"

	"sentinelgrid.dev/telemetry/internal/store"
)

// Cache is a short-lived device-identifier to sensor-record cache used by
// the identity resolver. Identity resolution is the pipeline's most
// expensive step (a cross-account query), and a device that transmitted once
// will transmit again seconds later.
//
// Entries expire after a fixed TTL, which bounds how long the pipeline can
// act on stale ownership after a release/re-register performed by another
// process. In-process ownership changes should call Invalidate explicitly.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	sensor    store.Sensor
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL. A zero or negative TTL
// disables caching entirely: Get always misses.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached sensor record for the device identifier,
// if present and not expired.
func (c *Cache) Get(deviceID string) (*store.Sensor, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[deviceID]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, deviceID)
		return nil, false
	}

	sensor := entry.sensor
	return &sensor, true
}

// Put stores a copy of the sensor record for its device identifier.
func (c *Cache) Put(sensor store.Sensor) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[sensor.DeviceID] = cacheEntry{
		sensor:    sensor,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate removes the entry for a device identifier. Called on ownership
// changes so a released identifier stops resolving immediately.
func (c *Cache) Invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, deviceID)
}

// Len returns the number of entries currently held, including any that have
// expired but not yet been evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
