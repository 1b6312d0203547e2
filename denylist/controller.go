package denylist

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Decision is the outcome of a connection check.
type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// Result is the outcome of an administrative operation.
type Result int

const (
	UnknownName Result = iota
	// Denied means the identity was added while its owner was offline.
	Denied
	// DeniedLive means the owner is connected and must be disconnected by the caller.
	DeniedLive
	Allowed
)

func (r Result) String() string {
	switch r {
	case Denied:
		return "denied"
	case DeniedLive:
		return "denied-live"
	case Allowed:
		return "allowed"
	default:
		return "unknown-name"
	}
}

// Registry reports the identity of a user who is connected right now.
type Registry interface {
	Lookup(name string) (Identity, bool)
}

// Resolver maps a name to an identity.
type Resolver func(name string) (Identity, bool)

// Source says which resolver produced an identity.
type Source int

const (
	SourceNone Source = iota
	SourceLive
	SourceCache
)

type resolverEntry struct {
	source  Source
	resolve Resolver
}

// Entry is a denied identity with the cached names that point to it.
type Entry struct {
	Identity Identity
	Names    []string
}

// Controller owns the identity cache and the denylist. One mutex guards both,
// and every save runs while it is held.
type Controller struct {
	mu     sync.Mutex
	cache  *IdentityCache
	denied *Set
	store  Store
	live   Registry
	log    logrus.FieldLogger
}

func NewController(store Store, logger logrus.FieldLogger) *Controller {
	if store == nil {
		store = NewNullStore()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		cache:  NewIdentityCache(),
		denied: NewSet(),
		store:  store,
		log:    logger,
	}
}

// SetRegistry installs the live connection registry consulted before the cache.
func (c *Controller) SetRegistry(r Registry) {
	c.mu.Lock()
	c.live = r
	c.mu.Unlock()
}

// Load replaces in-memory state with what the store holds. Load failures are
// logged and leave the corresponding state empty.
func (c *Controller) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.store.LoadIdentityCache()
	if err != nil {
		c.log.WithError(err).Error("failed to load identity cache, starting empty")
		entries = nil
	}
	c.cache.replace(entries)

	ids, err := c.store.LoadDenylist()
	if err != nil {
		c.log.WithError(err).Error("failed to load denylist, starting empty")
		ids = nil
	}
	c.denied.replace(ids)

	c.log.WithFields(logrus.Fields{
		"names":  c.cache.Len(),
		"denied": c.denied.Len(),
	}).Info("denylist loaded")
}

// Flush writes both stores unconditionally.
func (c *Controller) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveCacheLocked()
	c.saveDenylistLocked()
}

// OnConnect records the name for every connecting user, including denied ones,
// then reports whether the identity may proceed.
func (c *Controller) OnConnect(name string, id Identity) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Unchanged mappings are not rewritten unless an earlier save failed.
	c.cache.Observe(name, id)
	if c.cache.Dirty() {
		c.saveCacheLocked()
	}

	decision := Allow
	if c.denied.Contains(id) {
		decision = Deny
	}
	c.log.WithFields(logrus.Fields{
		"name":     NormalizeName(name),
		"identity": id.String(),
		"decision": decision.String(),
	}).Debug("connection checked")
	return decision
}

// DenyByLiveIdentity denies a connected user. The caller terminates the connection.
func (c *Controller) DenyByLiveIdentity(name string, id Identity) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denyLiveLocked(name, id)
	return DeniedLive
}

// DenyByName denies the identity cached for name.
func (c *Controller) DenyByName(name string) (Result, Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.cache.Resolve(name)
	if !ok {
		return UnknownName, Identity{}
	}
	c.denyLocked(name, id)
	return Denied, id
}

// Deny resolves name through the live registry, then the cache, and denies
// the identity found. DeniedLive tells the caller to disconnect the user.
func (c *Controller) Deny(name string) (Result, Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, source := c.resolveLocked(name)
	switch source {
	case SourceLive:
		c.denyLiveLocked(name, id)
		return DeniedLive, id
	case SourceCache:
		c.denyLocked(name, id)
		return Denied, id
	default:
		return UnknownName, Identity{}
	}
}

// AllowByName lifts the denial for name. Allowing an identity that is not
// denied still reports Allowed.
func (c *Controller) AllowByName(name string) (Result, Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, source := c.resolveLocked(name)
	if source == SourceNone {
		return UnknownName, Identity{}
	}
	if c.denied.Remove(id) {
		c.saveDenylistLocked()
	}
	c.log.WithFields(logrus.Fields{
		"name":     NormalizeName(name),
		"identity": id.String(),
	}).Info("identity allowed")
	return Allowed, id
}

// Resolve looks name up through the resolution chain.
func (c *Controller) Resolve(name string) (Identity, Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(name)
}

// IsDenied reports whether id is on the denylist.
func (c *Controller) IsDenied(id Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.denied.Contains(id)
}

// List returns denied identities sorted by their string form.
func (c *Controller) List() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.denied.Snapshot()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		names := c.cache.NamesFor(id)
		sort.Strings(names)
		out = append(out, Entry{Identity: id, Names: names})
	}
	return out
}

// resolveLocked walks the chain: live registry first, cache second.
// Registry implementations must not call back into the Controller.
func (c *Controller) resolveLocked(name string) (Identity, Source) {
	chain := make([]resolverEntry, 0, 2)
	if c.live != nil {
		chain = append(chain, resolverEntry{source: SourceLive, resolve: c.live.Lookup})
	}
	chain = append(chain, resolverEntry{source: SourceCache, resolve: c.cache.Resolve})

	for _, r := range chain {
		if id, ok := r.resolve(name); ok {
			return id, r.source
		}
	}
	return Identity{}, SourceNone
}

func (c *Controller) denyLocked(name string, id Identity) {
	if c.denied.Add(id) {
		c.saveDenylistLocked()
	}
	c.log.WithFields(logrus.Fields{
		"name":     NormalizeName(name),
		"identity": id.String(),
	}).Info("identity denied")
}

func (c *Controller) denyLiveLocked(name string, id Identity) {
	c.denied.Add(id)
	c.cache.Observe(name, id)
	c.saveDenylistLocked()
	c.saveCacheLocked()
	c.log.WithFields(logrus.Fields{
		"name":     NormalizeName(name),
		"identity": id.String(),
	}).Info("connected identity denied")
}

func (c *Controller) saveCacheLocked() {
	if err := c.store.SaveIdentityCache(c.cache.Snapshot()); err != nil {
		c.log.WithError(err).Error("failed to save identity cache")
		return
	}
	c.cache.MarkClean()
}

func (c *Controller) saveDenylistLocked() {
	if err := c.store.SaveDenylist(c.denied.Snapshot()); err != nil {
		c.log.WithError(err).Error("failed to save denylist")
	}
}
