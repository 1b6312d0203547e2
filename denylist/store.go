package denylist

// Store persists the identity cache and the denylist.
//
// Loaders skip records whose identity does not parse and return empty results
// when nothing has been stored yet. Savers overwrite whatever was stored before.
type Store interface {
	Init() error
	LoadIdentityCache() (map[string]Identity, error)
	SaveIdentityCache(entries map[string]Identity) error
	LoadDenylist() ([]Identity, error)
	SaveDenylist(ids []Identity) error
	Close() error
}
