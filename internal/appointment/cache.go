package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// WorkingHoursCache keeps therapist working hours in memory. Working hours
// change rarely and are read on every suggestion request.
type WorkingHoursCache struct {
	cache *cache.Cache
}

// NewWorkingHoursCache returns a cache whose entries live for ttl. A ttl of
// zero or less disables caching.
func NewWorkingHoursCache(ttl time.Duration) *WorkingHoursCache {
	if ttl <= 0 {
		return &WorkingHoursCache{}
	}
	return &WorkingHoursCache{cache: cache.New(ttl, 2*ttl)}
}

func (c *WorkingHoursCache) Get(therapistID uuid.UUID) ([]WorkingHoursBlock, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	v, found := c.cache.Get(therapistID.String())
	if !found {
		return nil, false
	}
	blocks, ok := v.([]WorkingHoursBlock)
	return blocks, ok
}

func (c *WorkingHoursCache) Set(therapistID uuid.UUID, blocks []WorkingHoursBlock) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Set(therapistID.String(), blocks, cache.DefaultExpiration)
}

func (c *WorkingHoursCache) Invalidate(therapistID uuid.UUID) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Delete(therapistID.String())
}
