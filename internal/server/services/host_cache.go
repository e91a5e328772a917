package services

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHostTTL covers two missed polls at the default sync interval
const DefaultHostTTL = 3 * time.Minute

// HostSighting is the last router poll seen for a MAC
type HostSighting struct {
	MAC      string    `json:"mac"`
	Allow    bool      `json:"allow"`
	LastSeen time.Time `json:"lastSeen"`
}

// HostCache remembers which client MACs the router-side synchronizer asked about recently.
// It lets operators see who is associated with the hotspot without querying the router.
// Entries live in memory only and never influence access decisions.
type HostCache struct {
	data   sync.Map // map[string]HostSighting
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	stop   chan struct{}
	once   sync.Once
}

// NewHostCache creates a host cache and starts the cleanup goroutine
func NewHostCache(ttl time.Duration, logger *zap.Logger) *HostCache {
	c := newHostCache(ttl, logger, time.Now)
	go c.startCleanup(ttl / 2)
	logger.Info("Host cache initialized", zap.Duration("ttl", c.ttl))
	return c
}

func newHostCache(ttl time.Duration, logger *zap.Logger, now func() time.Time) *HostCache {
	if ttl <= 0 {
		ttl = DefaultHostTTL
	}
	return &HostCache{
		ttl:    ttl,
		now:    now,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Seen records a poll for mac
func (c *HostCache) Seen(mac string, allow bool) {
	if c == nil {
		return
	}
	c.data.Store(mac, HostSighting{MAC: mac, Allow: allow, LastSeen: c.now()})
}

// Hosts returns the sightings that have not expired, most recent first
func (c *HostCache) Hosts() []HostSighting {
	if c == nil {
		return nil
	}
	cutoff := c.now().Add(-c.ttl)
	var hosts []HostSighting

	c.data.Range(func(key, val interface{}) bool {
		sighting, ok := val.(HostSighting)
		if ok && sighting.LastSeen.After(cutoff) {
			hosts = append(hosts, sighting)
		}
		return true
	})

	sort.Slice(hosts, func(i, j int) bool {
		if !hosts[i].LastSeen.Equal(hosts[j].LastSeen) {
			return hosts[i].LastSeen.After(hosts[j].LastSeen)
		}
		return hosts[i].MAC < hosts[j].MAC
	})
	return hosts
}

// Stop ends the cleanup goroutine
func (c *HostCache) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.stop) })
}

func (c *HostCache) cleanup() int {
	cutoff := c.now().Add(-c.ttl)
	keysToDelete := []string{}

	c.data.Range(func(key, val interface{}) bool {
		mac, ok1 := key.(string)
		sighting, ok2 := val.(HostSighting)
		if ok1 && ok2 && !sighting.LastSeen.After(cutoff) {
			keysToDelete = append(keysToDelete, mac)
		}
		return true
	})

	for _, mac := range keysToDelete {
		c.data.Delete(mac)
	}
	return len(keysToDelete)
}

func (c *HostCache) startCleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.cleanup(); n > 0 {
				c.logger.Debug("Host cache: cleaned up expired entries", zap.Int("count", n))
			}
		}
	}
}
