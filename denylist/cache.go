package denylist

// IdentityCache maps lower-cased names to the identity last seen with them.
// It is not safe for concurrent use; Controller serializes access.
type IdentityCache struct {
	entries map[string]Identity
	dirty   bool
}

// NewIdentityCache returns an empty cache.
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{entries: make(map[string]Identity)}
}

// Observe records name -> id and reports whether the mapping changed.
func (c *IdentityCache) Observe(name string, id Identity) bool {
	key := NormalizeName(name)
	if prev, ok := c.entries[key]; ok && prev == id {
		return false
	}
	c.entries[key] = id
	c.dirty = true
	return true
}

// Resolve returns the identity last observed under name, ignoring case.
func (c *IdentityCache) Resolve(name string) (Identity, bool) {
	id, ok := c.entries[NormalizeName(name)]
	return id, ok
}

// NamesFor returns every cached name currently mapped to id.
func (c *IdentityCache) NamesFor(id Identity) []string {
	var names []string
	for name, v := range c.entries {
		if v == id {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of cached names.
func (c *IdentityCache) Len() int { return len(c.entries) }

// Dirty reports whether the cache changed since the last MarkClean.
func (c *IdentityCache) Dirty() bool { return c.dirty }

func (c *IdentityCache) MarkClean() { c.dirty = false }

// Snapshot returns a copy of all entries.
func (c *IdentityCache) Snapshot() map[string]Identity {
	out := make(map[string]Identity, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// replace swaps in loaded entries, normalizing keys.
func (c *IdentityCache) replace(entries map[string]Identity) {
	c.entries = make(map[string]Identity, len(entries))
	for k, v := range entries {
		c.entries[NormalizeName(k)] = v
	}
	c.dirty = false
}
