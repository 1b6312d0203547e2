package denylist

// NullStore persists nothing.
type NullStore struct{}

func NewNullStore() *NullStore {
	return &NullStore{}
}

func (s *NullStore) Init() error { return nil }

// LoadIdentityCache returns an empty mapping.
func (s *NullStore) LoadIdentityCache() (map[string]Identity, error) {
	return map[string]Identity{}, nil
}

// SaveIdentityCache does nothing.
func (s *NullStore) SaveIdentityCache(map[string]Identity) error { return nil }

// LoadDenylist returns no identities.
func (s *NullStore) LoadDenylist() ([]Identity, error) { return nil, nil }

// SaveDenylist does nothing.
func (s *NullStore) SaveDenylist([]Identity) error { return nil }

func (s *NullStore) Close() error { return nil }
