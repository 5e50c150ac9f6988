package discord

import (
	"sync"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
)

// MappingCache is the in-process replica of the mapping store. Reads are
// concurrent; writes replace entries synchronously after the store commits.
type MappingCache struct {
	mu      sync.RWMutex
	entries map[string]Mapping
}

// NewMappingCache returns an empty cache.
func NewMappingCache() *MappingCache {
	return &MappingCache{entries: make(map[string]Mapping)}
}

// Replace swaps the whole content.
func (c *MappingCache) Replace(list []Mapping) {
	next := make(map[string]Mapping, len(list))
	for _, m := range list {
		next[m.RoleName] = m
	}
	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
}

// Put stores a single mapping.
func (c *MappingCache) Put(m Mapping) {
	c.mu.Lock()
	c.entries[m.RoleName] = m
	c.mu.Unlock()
}

// Delete drops roleName.
func (c *MappingCache) Delete(roleName string) {
	c.mu.Lock()
	delete(c.entries, roleName)
	c.mu.Unlock()
}

// Get returns the mapping for roleName.
func (c *MappingCache) Get(roleName string) (Mapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[roleName]
	return m, ok
}

// Levels returns a role name to level snapshot.
func (c *MappingCache) Levels() map[string]rbac.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]rbac.Level, len(c.entries))
	for name, m := range c.entries {
		out[name] = m.Level
	}
	return out
}

// Highest returns the highest level mapped from names; unmapped names are
// ignored and the floor is rbac.LevelUser.
func (c *MappingCache) Highest(names []string) rbac.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	best := rbac.LevelUser
	for _, name := range names {
		m, ok := c.entries[name]
		if !ok {
			continue
		}
		if m.Level.Rank() > best.Rank() {
			best = m.Level
		}
	}
	return best
}

// Len reports the number of cached mappings.
func (c *MappingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
