// Package dedup remembers recently alerted unknown faces so the same stranger
// does not raise a new alert every time a new track is created for them.
package dedup

import (
	"sync"
	"time"

	"github.com/LdDl/facewatch/similarity"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// DefaultCooldown is how long an alerted embedding suppresses similar alerts
const DefaultCooldown = 300 * time.Second

// Thresholds provides the active acceptance threshold; Threshold("") is the global one.
type Thresholds interface {
	Threshold(name string) float64
}

// entry is a remembered unknown face
type entry struct {
	embedding []float64
	timestamp time.Time
}

// Cache is a cooldown memory of alerted unknown embeddings.
// Entries survive until timestamp + cooldown < now, where now is the frame time supplied by
// the caller. Items never expire by wall clock, so replays slower than real time keep them.
type Cache struct {
	cooldown   time.Duration
	oracle     similarity.Oracle
	thresholds Thresholds
	entries    *cache.Cache
	mu         sync.Mutex
	log        logrus.FieldLogger
}

// New creates Cache. Non-positive cooldown falls back to DefaultCooldown, nil oracle to cosine similarity.
func New(cooldown time.Duration, oracle similarity.Oracle, thresholds Thresholds) *Cache {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if oracle == nil {
		oracle = similarity.Cosine{}
	}
	return &Cache{
		cooldown:   cooldown,
		oracle:     oracle,
		thresholds: thresholds,
		// No janitor: stale items are dropped by purge
		entries: cache.New(cache.NoExpiration, 0),
		log:     logrus.StandardLogger(),
	}
}

// SetLogger replaces cache's logger
func (c *Cache) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		c.log = log
	}
}

// ShouldAlert purges stale entries and reports whether embedding is unlike every remembered one.
// It does not record the embedding; call Record after the alert has been raised.
func (c *Cache) ShouldAlert(embedding []float64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purge(now)
	threshold := c.thresholds.Threshold("")
	for key, item := range c.entries.Items() {
		e := item.Object.(entry)
		score := c.oracle.Similarity(embedding, e.embedding)
		if score > threshold {
			c.log.WithFields(logrus.Fields{
				"entry":     key,
				"score":     score,
				"threshold": threshold,
			}).Debugf("dedup: unknown face seen recently, suppressing alert")
			return false
		}
	}
	return true
}

// Record remembers embedding as alerted at given time
func (c *Cache) Record(embedding []float64, now time.Time) {
	emb := make([]float64, len(embedding))
	copy(emb, embedding)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Set(uuid.NewString(), entry{embedding: emb, timestamp: now}, cache.NoExpiration)
}

// Len returns number of remembered entries (stale ones included until next purge)
func (c *Cache) Len() int {
	return c.entries.ItemCount()
}

// Cooldown returns configured cooldown
func (c *Cache) Cooldown() time.Duration {
	return c.cooldown
}

// purge drops entries with timestamp + cooldown < now
func (c *Cache) purge(now time.Time) {
	for key, item := range c.entries.Items() {
		e := item.Object.(entry)
		if e.timestamp.Add(c.cooldown).Before(now) {
			c.entries.Delete(key)
		}
	}
}
