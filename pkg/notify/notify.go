// Package notify implements the single-slot, auto-expiring notification
// channel backing the dashboard banner.
//
// Only one notification is ever visible. Posting while one is showing
// supersedes it, and the superseded notification's expiry timer is
// neutralized so it can never clear the newer message.
package notify

import (
	"sync"
	"time"
)

// Level classifies a notification for presentation.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// DefaultTTL is how long a notification stays visible without operator
// interaction.
const DefaultTTL = 6 * time.Second

// Notification is one user-facing message.
type Notification struct {
	Message  string    `json:"message"`
	Level    Level     `json:"level"`
	PostedAt time.Time `json:"postedAt"`
}

// Center owns the visible notification slot. Safe for concurrent use.
type Center struct {
	mu       sync.Mutex
	ttl      time.Duration
	seq      uint64
	current  *Notification
	timer    *time.Timer
	onChange func(*Notification)
}

// NewCenter creates a notification center. ttl <= 0 selects DefaultTTL.
// onChange, if non-nil, is invoked outside the center's lock with the new
// visible notification (nil when the slot cleared).
func NewCenter(ttl time.Duration, onChange func(*Notification)) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl, onChange: onChange}
}

// Post replaces the visible notification and schedules its auto-clear.
func (c *Center) Post(message string, level Level) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.seq++
	seq := c.seq
	n := &Notification{Message: message, Level: level, PostedAt: time.Now()}
	c.current = n
	c.timer = time.AfterFunc(c.ttl, func() { c.expire(seq) })
	c.mu.Unlock()

	c.notify(n)
}

// expire clears the slot only if the notification that armed the timer is
// still the visible one. The sequence check closes the race where a stopped
// timer had already fired.
func (c *Center) expire(seq uint64) {
	c.mu.Lock()
	if c.seq != seq || c.current == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.timer = nil
	c.mu.Unlock()

	c.notify(nil)
}

// Dismiss clears the visible notification before its timer fires. Safe to
// call when nothing is showing.
func (c *Center) Dismiss() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++ // invalidate any timer callback already in flight
	c.current = nil
	c.mu.Unlock()

	c.notify(nil)
}

// Current returns a copy of the visible notification, if any.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

func (c *Center) notify(n *Notification) {
	if c.onChange != nil {
		c.onChange(n)
	}
}
