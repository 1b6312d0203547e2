package denylist

// Set is the collection of denied identities. Like IdentityCache it relies on
// Controller for locking.
type Set struct {
	ids map[Identity]struct{}
}

func NewSet() *Set {
	return &Set{ids: make(map[Identity]struct{})}
}

func (s *Set) Contains(id Identity) bool {
	_, ok := s.ids[id]
	return ok
}

// Add is a no-op when id is already present. It reports whether the set changed.
func (s *Set) Add(id Identity) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove is a no-op when id is absent. It reports whether the set changed.
func (s *Set) Remove(id Identity) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

func (s *Set) Len() int { return len(s.ids) }

// Snapshot returns the members in unspecified order.
func (s *Set) Snapshot() []Identity {
	out := make([]Identity, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

func (s *Set) replace(ids []Identity) {
	s.ids = make(map[Identity]struct{}, len(ids))
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}
