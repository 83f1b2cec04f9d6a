package unified

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/state"
	"github.com/thebtf/devark/pkg/models"
)

// GoalEntry is mutable session metadata kept outside the read-only store.
type GoalEntry struct {
	Progress   *int   `json:"progress,omitempty"`
	Goal       string `json:"goal,omitempty"`
	CustomName string `json:"customName,omitempty"`
}

// GoalCache maps a session id or source session id to its GoalEntry.
type GoalCache struct {
	kv      state.KV
	entries map[string]GoalEntry
	mu      sync.RWMutex
}

// NewGoalCache creates a cache, restoring entries from kv when given.
func NewGoalCache(kv state.KV) *GoalCache {
	c := &GoalCache{kv: kv, entries: make(map[string]GoalEntry)}
	if kv != nil {
		if _, err := kv.Get(state.KeyGoalCache, &c.entries); err != nil {
			log.Warn().Err(err).Msg("Failed to restore goal cache")
		}
		if c.entries == nil {
			c.entries = make(map[string]GoalEntry)
		}
	}
	return c
}

// Update merges fn's changes into the entry stored under every non-empty key.
func (c *GoalCache) Update(keys []string, fn func(*GoalEntry)) {
	c.mu.Lock()
	var entry GoalEntry
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			entry = e
			break
		}
	}
	fn(&entry)
	for _, k := range keys {
		if k != "" {
			c.entries[k] = entry
		}
	}
	snapshot := make(map[string]GoalEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if c.kv != nil {
		if err := c.kv.Put(state.KeyGoalCache, snapshot); err != nil {
			log.Warn().Err(err).Msg("Failed to persist goal cache")
		}
	}
}

// Lookup finds an entry by session id, then by source session id.
func (c *GoalCache) Lookup(sessionID, sourceSessionID string) (GoalEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[sessionID]; ok && sessionID != "" {
		return e, true
	}
	if e, ok := c.entries[sourceSessionID]; ok && sourceSessionID != "" {
		return e, true
	}
	return GoalEntry{}, false
}

// Apply fills unset goal fields on s from the cache. Set values win.
func (c *GoalCache) Apply(s *models.Session) {
	e, ok := c.Lookup(s.ID, s.SourceIdentity())
	if !ok {
		return
	}
	if s.GoalProgress == nil && e.Progress != nil {
		p := *e.Progress
		s.GoalProgress = &p
	}
	if s.Goal == "" {
		s.Goal = e.Goal
	}
	if s.CustomName == "" {
		s.CustomName = e.CustomName
	}
}

// Len returns the number of keys.
func (c *GoalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func sessionKeys(s *models.Session) []string {
	keys := []string{s.ID}
	if id := s.SourceIdentity(); id != s.ID {
		keys = append(keys, id)
	}
	return keys
}
