package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// Dedup suppresses repeated order intents within a time-to-live window.
// Intents carry fresh IDs on every emission, so duplicates are detected by a
// content fingerprint: the same strategy asking for the same order twice in
// quick succession is one order. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // fingerprint -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers an intent a duplicate if
// an identical one has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether an identical intent has been seen within the
// TTL window. If not, the intent is recorded and false is returned.
func (d *Dedup) IsDuplicate(intent domain.OrderIntent) bool {
	key := fingerprint(intent)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Forget drops the fingerprint matching an order whose life is over, so a
// follow-up intent with the same content executes instead of being treated
// as a duplicate. Cancel-then-replace requoting at an unchanged midpoint
// depends on this.
func (d *Dedup) Forget(order domain.Order) {
	key := orderFingerprint(order)

	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes entries that have expired beyond the TTL. Called
// periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

func fingerprint(i domain.OrderIntent) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		i.Strategy, i.MarketID, i.TokenID, i.Side, i.PriceTicks, i.SizeUnits)
}

func orderFingerprint(o domain.Order) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		o.Strategy, o.MarketID, o.TokenID, o.Side, o.PriceTicks, o.SizeUnits)
}
