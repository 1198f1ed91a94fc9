// Package firewall holds the IP allow and deny lists configured through the
// firewall category.
package firewall

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/infra/logging"
	json "github.com/goccy/go-json"
)

// Category is the configuration category forwarded to the allow list.
const Category = "firewall"

// Item names inside the firewall category.
const (
	ItemAllowed = "allowedIP"
	ItemDenied  = "deniedIP"
)

// AllowList decides whether a client address may connect. An empty allow
// list admits everything not denied. Safe for concurrent use.
type AllowList struct {
	mu      sync.RWMutex
	allowed []netip.Prefix
	denied  []netip.Prefix
}

// New returns an allow list admitting every address.
func New() *AllowList {
	return &AllowList{}
}

// Update replaces both lists from the firewall category value.
func (a *AllowList) Update(value schema.Items) error {
	allowed, err := prefixes(value, ItemAllowed)
	if err != nil {
		return err
	}
	denied, err := prefixes(value, ItemDenied)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.allowed, a.denied = allowed, denied
	a.mu.Unlock()
	logging.Info("firewall", "allow list updated", "allowed", len(allowed), "denied", len(denied))
	return nil
}

// Allowed reports whether ip may connect.
func (a *AllowList) Allowed(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.denied {
		if p.Contains(addr) {
			return false
		}
	}
	if len(a.allowed) == 0 {
		return true
	}
	for _, p := range a.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func prefixes(value schema.Items, name string) ([]netip.Prefix, error) {
	item, ok := value[name]
	if !ok || strings.TrimSpace(item.Value) == "" {
		return nil, nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(item.Value), &entries); err != nil {
		var wrapped map[string][]string
		if werr := json.Unmarshal([]byte(item.Value), &wrapped); werr != nil || item.ListName == "" {
			return nil, fmt.Errorf("firewall %s: %w", name, err)
		}
		entries = wrapped[item.ListName]
	}
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := parsePrefix(e)
		if err != nil {
			return nil, fmt.Errorf("firewall %s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
