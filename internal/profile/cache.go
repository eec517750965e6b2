// Package profile caches the display profile of the current identity and
// republishes it to subscribers.
package profile

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/identity"
)

// Profile holds display-oriented user attributes.
type Profile struct {
	IdentityID  string
	DisplayName string
	PhotoURL    string
}

// FromIdentity derives a Profile from id.
func FromIdentity(id identity.Identity) Profile {
	return Profile{
		IdentityID:  id.ID,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
	}
}

// IdentitySource yields the current identity, or nil when signed out.
type IdentitySource interface {
	Current() *identity.Identity
}

// Listener receives the latest profile. ok is false when there is none.
type Listener func(p Profile, ok bool)

// Cache holds the latest profile of the current identity. A profile whose
// IdentityID does not match the source's current identity at the moment it
// would be stored or delivered is discarded.
type Cache struct {
	src IdentitySource
	lg  *zap.Logger

	mu        sync.Mutex
	current   *Profile
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn Listener
}

// New creates an empty Cache validated against src.
func New(src IdentitySource, lg *zap.Logger) *Cache {
	return &Cache{src: src, lg: lg}
}

// Current returns the cached profile if it belongs to the current identity.
// A stale profile is dropped.
func (c *Cache) Current() (Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Profile{}, false
	}
	if !c.matches(*c.current) {
		c.current = nil
		return Profile{}, false
	}
	return *c.current, true
}

// RefreshFrom replaces the cached profile with one derived from id and
// publishes it.
func (c *Cache) RefreshFrom(id identity.Identity) Profile {
	p := FromIdentity(id)
	c.store(p)
	return p
}

// ApplyExternalUpdate publishes p without an identity change, for example
// after a profile edit. Updates for an identity other than the current one
// are ignored.
func (c *Cache) ApplyExternalUpdate(p Profile) {
	c.store(p)
}

// Clear drops the cached profile and notifies subscribers.
func (c *Cache) Clear() {
	c.mu.Lock()
	had := c.current != nil
	c.current = nil
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	if had {
		for _, l := range listeners {
			l.fn(Profile{}, false)
		}
	}
}

// Subscribe registers fn. fn is called immediately with the current value
// and then on every change. The returned func removes fn.
func (c *Cache) Subscribe(fn Listener) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	fn(c.Current())

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Cache) store(p Profile) {
	c.mu.Lock()
	if !c.matches(p) {
		c.mu.Unlock()
		c.lg.Debug("Discarding stale profile", zap.String("identity", p.IdentityID))
		return
	}
	c.current = &p
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	for _, l := range listeners {
		// Re-check at delivery: a sign-out may have happened meanwhile.
		if !c.matches(p) {
			c.lg.Debug("Dropping profile delivery for stale identity", zap.String("identity", p.IdentityID))
			return
		}
		l.fn(p, true)
	}
}

func (c *Cache) matches(p Profile) bool {
	cur := c.src.Current()
	return cur != nil && cur.ID == p.IdentityID
}

func (c *Cache) snapshotListeners() []listener {
	out := make([]listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}
