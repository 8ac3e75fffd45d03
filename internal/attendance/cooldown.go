package attendance

import (
	"time"

	"github.com/google/uuid"
)

// Cooldown suppresses repeated actions for the same identity within a
// window. Each camera worker owns its own Cooldown; it is not safe for
// concurrent use.
type Cooldown struct {
	window    time.Duration
	last      map[uuid.UUID]time.Time
	nextSweep time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[uuid.UUID]time.Time)}
}

// ShouldAct reports whether id may act at now. A true result records now as
// the identity's last action; a false result leaves state untouched.
func (c *Cooldown) ShouldAct(id uuid.UUID, now time.Time) bool {
	c.sweep(now)

	if last, ok := c.last[id]; ok && now.Sub(last) <= c.window {
		return false
	}
	c.last[id] = now
	return true
}

// Len returns the number of identities currently tracked.
func (c *Cooldown) Len() int { return len(c.last) }

// sweep drops entries that can no longer suppress anything, at most once
// per window.
func (c *Cooldown) sweep(now time.Time) {
	if now.Before(c.nextSweep) {
		return
	}
	for id, last := range c.last {
		if now.Sub(last) > c.window {
			delete(c.last, id)
		}
	}
	c.nextSweep = now.Add(c.window)
}
