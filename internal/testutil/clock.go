// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

type (
	// FakeClock is a manually driven time source. It satisfies the Clock
	// interface of health.Monitor; time moves only through Advance.
	FakeClock struct {
		mu      sync.Mutex
		current time.Time
		waiters []waiter
	}

	waiter struct {
		target time.Time
		ch     chan time.Time
	}
)

// NewFakeClock returns a FakeClock at initial, or at 2020-01-01 UTC when
// initial is zero.
func NewFakeClock(initial time.Time) *FakeClock {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{current: initial}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires once Advance reaches now+d.
// Non-positive durations fire immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, waiter{target: c.current.Add(d), ch: ch})
	return ch
}

// Advance moves the fake time forward and fires every due waiter.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if c.current.Before(w.target) {
			pending = append(pending, w)
			continue
		}
		w.ch <- c.current
	}
	c.waiters = pending
}

// Waiters returns the number of pending After channels.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil returns once at least n After calls are pending, so a test can
// advance time only after the code under test has started waiting.
func (c *FakeClock) BlockUntil(n int) {
	for c.Waiters() < n {
		time.Sleep(time.Millisecond)
	}
}
