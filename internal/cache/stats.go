package cache

// Stats is a read-only snapshot of one cache's counters, taken under the
// cache lock. Served by the ops API and the readiness report.
type Stats struct {
	// Hits is the number of Get calls that found a live entry.
	Hits int64 `json:"hits"`

	// Misses is the number of Get calls that found nothing, including
	// entries that had expired by observation time.
	Misses int64 `json:"misses"`

	// Evictions is the number of entries removed to enforce capacity.
	// TTL sweep removals are not evictions.
	Evictions int64 `json:"evictions"`

	// CurrentSize is the number of live entries. Never exceeds Capacity.
	CurrentSize int `json:"current_size"`

	// Capacity is the configured maximum entry count.
	Capacity int `json:"capacity"`

	// HitRate is Hits / (Hits + Misses), 0 when no lookups happened.
	HitRate float64 `json:"hit_rate"`

	// Bytes approximates the memory held by cached values when the cache
	// was built with a sizer; 0 otherwise.
	Bytes int64 `json:"bytes,omitempty"`
}
