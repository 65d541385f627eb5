package service

import (
	"sync"
	"time"
)

// orderedClock hands out strictly increasing microsecond timestamps so that
// messages created by this process sort in creation order.
type orderedClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *orderedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
