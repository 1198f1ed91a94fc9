// Package configmgr is the public API of the configuration subsystem. A
// Manager validates categories against the item schema, merges them with
// what is stored, keeps the category cache and tells subscribers about
// changes.
//
// Managers are built explicitly with New and passed to whoever needs them;
// there is no package level instance.
package configmgr

import (
	"context"
	"errors"
	"strconv"

	"github.com/cordum/edgeconf/core/acl"
	"github.com/cordum/edgeconf/core/audit"
	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/configmgr/cache"
	"github.com/cordum/edgeconf/core/configmgr/callback"
	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/configsvc"
	"github.com/cordum/edgeconf/core/firewall"
	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/cordum/edgeconf/core/infra/metrics"
	"github.com/cordum/edgeconf/core/storage"
)

const component = "configmgr"

// Built-in categories the manager reacts to itself.
const (
	CategoryLogging       = "LOGGING"
	CategoryConfiguration = "CONFIGURATION"

	ItemLogLevel  = "logLevel"
	ItemCacheSize = "cacheSize"
)

const roleAdmin = "admin"

var reservedCategories = map[string]struct{}{
	"General": {}, "Advanced": {}, "Utilities": {}, "rest_api": {}, "Security": {},
	"service": {}, "SCHEDULER": {}, "SMNTR": {}, "PURGE_READ": {}, "Notifications": {},
	"South": {}, "North": {}, CategoryConfiguration: {}, CategoryLogging: {}, firewall.Category: {},
}

// IsReserved reports whether name can never be deleted.
func IsReserved(name string) bool {
	_, ok := reservedCategories[name]
	return ok
}

// Caller identifies who asks for a change. A nil Caller or an admin role
// bypasses item permissions.
type Caller struct {
	User string
	Role string
}

func (c *Caller) privileged() bool {
	return c == nil || c.Role == roleAdmin
}

// Deps are the collaborators of a Manager. Store is required.
type Deps struct {
	Store   storage.Storage
	Audit   audit.Logger
	ACL     acl.Usage
	Metrics metrics.ConfigMetrics
}

// Manager orchestrates validation, storage, cache and callbacks.
type Manager struct {
	svc        *configsvc.Service
	cache      *cache.Cache
	registry   *callback.Registry
	audit      audit.Logger
	acl        acl.Usage
	firewall   *firewall.AllowList
	scriptsDir string
}

type options struct {
	cacheSize  int
	scriptsDir string
	firewall   *firewall.AllowList
}

// Option configures a Manager.
type Option func(*options)

// WithCacheSize sets the initial cache capacity.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithScriptsDir sets where uploaded script items are kept.
func WithScriptsDir(dir string) Option {
	return func(o *options) { o.scriptsDir = dir }
}

// WithFirewall forwards the firewall category to list on every change.
func WithFirewall(list *firewall.AllowList) Option {
	return func(o *options) { o.firewall = list }
}

// New builds a Manager.
func New(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("configmgr: storage required")
	}
	o := options{cacheSize: cache.DefaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Audit == nil {
		deps.Audit = audit.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	c := cache.New(o.cacheSize, cache.WithMetrics(deps.Metrics))
	return &Manager{
		svc:        configsvc.New(deps.Store, c, configsvc.WithAudit(deps.Audit), configsvc.WithMetrics(deps.Metrics)),
		cache:      c,
		registry:   callback.NewRegistry(deps.Metrics),
		audit:      deps.Audit,
		acl:        deps.ACL,
		firewall:   o.firewall,
		scriptsDir: o.scriptsDir,
	}, nil
}

// Cache exposes the category cache.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// RegisterInterest subscribes h to value changes of category.
func (m *Manager) RegisterInterest(category, subscriber string, h callback.NotificationHandler) error {
	return m.registry.Register(category, subscriber, h)
}

// UnregisterInterest drops subscriber from category.
func (m *Manager) UnregisterInterest(category, subscriber string) error {
	return m.registry.Unregister(category, subscriber)
}

// RegisterInterestChild subscribes h to structural changes under parent.
func (m *Manager) RegisterInterestChild(parent, subscriber string, h callback.ChildChangeHandler) error {
	return m.registry.RegisterChild(parent, subscriber, h)
}

// UnregisterInterestChild drops subscriber from the structural registry of
// parent.
func (m *Manager) UnregisterInterestChild(parent, subscriber string) error {
	return m.registry.UnregisterChild(parent, subscriber)
}

// runCallbacks applies the built-in reactions for name and then notifies
// subscribers. LOGGING never reaches the registry.
func (m *Manager) runCallbacks(ctx context.Context, name string) error {
	switch name {
	case CategoryLogging:
		items, err := m.currentItems(ctx, name)
		if err != nil {
			return err
		}
		if lvl := items[ItemLogLevel].Value; lvl != "" && !logging.SetLevel(lvl) {
			logging.Warn(component, "unknown log level", "level", lvl)
		}
		return nil
	case CategoryConfiguration:
		items, err := m.currentItems(ctx, name)
		if err != nil {
			return err
		}
		if raw := items[ItemCacheSize].Value; raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				if evicted := m.cache.Resize(n); evicted > 0 {
					logging.Info(component, "cache resized", "size", n, "evicted", evicted)
				}
			}
		}
	case firewall.Category:
		if m.firewall != nil {
			items, err := m.currentItems(ctx, name)
			if err != nil {
				return err
			}
			if err := m.firewall.Update(items); err != nil {
				logging.Warn(component, "firewall update rejected", "error", err)
			}
		}
	}
	return m.registry.Notify(ctx, name)
}

// currentItems returns the cached value of name without touching the hit
// counters, reading storage if it was evicted.
func (m *Manager) currentItems(ctx context.Context, name string) (schema.Items, error) {
	if entry, ok := m.cache.Get(name); ok {
		return entry.Value, nil
	}
	cat, err := m.svc.Read(ctx, name)
	if err != nil || cat == nil {
		return schema.Items{}, err
	}
	return cat.Value, nil
}

// fail logs err with its context unless it is a permission or callback
// failure, which are logged elsewhere or expected.
func fail(op string, err error, kv ...any) error {
	if err == nil || configerr.IsForbidden(err) || errors.Is(err, configerr.ErrCallback) {
		return err
	}
	logging.Error(component, op+" failed", append(kv, "error", err)...)
	return err
}
