package orchestrator

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCorrelationTTL bounds how long a scope remembers its latest id.
const DefaultCorrelationTTL = 5 * time.Minute

// Correlator implements last-request-wins per scope: tracking a new id for a
// scope makes every earlier id of that scope stale. Ids also go stale once
// the TTL passes.
type Correlator struct {
	cache *ttlcache.Cache[string, string]
}

func NewCorrelator(ttl time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = DefaultCorrelationTTL
	}
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	return &Correlator{cache: c}
}

// Track makes id the current request of scope. Expired scopes are swept
// here instead of by a background loop.
func (c *Correlator) Track(scope, id string) {
	c.cache.DeleteExpired()
	c.cache.Set(scope, id, ttlcache.DefaultTTL)
}

// Current reports whether id is still the latest live request of scope.
func (c *Correlator) Current(scope, id string) bool {
	item := c.cache.Get(scope)
	return item != nil && item.Value() == id
}

// Done forgets scope if id is still its current request.
func (c *Correlator) Done(scope, id string) {
	if c.Current(scope, id) {
		c.cache.Delete(scope)
	}
}
