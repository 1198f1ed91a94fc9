package configmgr

import (
	"context"

	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/configsvc"
)

// GetCategoryAllItems returns every item of name, or nil when the category
// does not exist. Script items carry their decoded source and file.
func (m *Manager) GetCategoryAllItems(ctx context.Context, name string) (_ schema.Items, err error) {
	defer func() { err = fail("get category", err, "category", name) }()

	items, found, err := m.category(ctx, name)
	if err != nil || !found {
		return nil, err
	}
	for itemName, item := range items {
		if item.Type == schema.TypeScript {
			items[itemName] = m.scriptView(name, itemName, item)
		}
	}
	return items, nil
}

// GetCategoryItem returns one item of name, or nil when either is absent.
func (m *Manager) GetCategoryItem(ctx context.Context, name, itemName string) (_ *schema.Item, err error) {
	defer func() { err = fail("get category item", err, "category", name, "item", itemName) }()

	items, found, err := m.category(ctx, name)
	if err != nil || !found {
		return nil, err
	}
	item, ok := items[itemName]
	if !ok {
		return nil, nil
	}
	if item.Type == schema.TypeScript {
		item = m.scriptView(name, itemName, item)
	}
	return &item, nil
}

// GetCategoryItemValueEntry returns the value of one item and whether it
// exists.
func (m *Manager) GetCategoryItemValueEntry(ctx context.Context, name, itemName string) (_ string, _ bool, err error) {
	defer func() { err = fail("get category item value", err, "category", name, "item", itemName) }()

	items, found, err := m.category(ctx, name)
	if err != nil || !found {
		return "", false, err
	}
	item, ok := items[itemName]
	if !ok {
		return "", false, nil
	}
	return m.valueView(item), true, nil
}

// GetAllCategoryNames lists categories selected by filter, each expanded
// into its children tree when withChildren is set.
func (m *Manager) GetAllCategoryNames(ctx context.Context, filter configsvc.RootFilter, withChildren bool) (_ []configsvc.CategoryInfo, err error) {
	defer func() { err = fail("list categories", err) }()
	if withChildren {
		return m.svc.ListCategoryTree(ctx, filter)
	}
	return m.svc.ListCategories(ctx, filter)
}

// ACLRef locates an ACL item.
type ACLRef struct {
	Category string
	Item     string
	Value    string
}

// SearchForACL looks for an ACL typed item in name and then, depth first, in
// its descendants. It returns nil when there is none.
func (m *Manager) SearchForACL(ctx context.Context, name string) (_ *ACLRef, err error) {
	defer func() { err = fail("search for acl", err, "category", name) }()

	visited := map[string]struct{}{}
	var search func(string) (*ACLRef, error)
	search = func(cat string) (*ACLRef, error) {
		visited[cat] = struct{}{}
		items, _, err := m.category(ctx, cat)
		if err != nil {
			return nil, err
		}
		for _, itemName := range items.Names() {
			if item := items[itemName]; item.Type == schema.TypeACL {
				return &ACLRef{Category: cat, Item: itemName, Value: item.Value}, nil
			}
		}
		kids, err := m.svc.ChildNames(ctx, cat)
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			if _, seen := visited[kid]; seen {
				continue
			}
			if ref, err := search(kid); err != nil || ref != nil {
				return ref, err
			}
		}
		return nil, nil
	}
	return search(name)
}

// category reads name through the cache; a miss reads the row and fills
// the cache. The returned items are a private copy.
func (m *Manager) category(ctx context.Context, name string) (schema.Items, bool, error) {
	if m.cache.Contains(name) {
		if entry, ok := m.cache.Get(name); ok {
			return entry.Value, true, nil
		}
	}
	cat, err := m.svc.Read(ctx, name)
	if err != nil || cat == nil {
		return nil, false, err
	}
	return cat.Value.Clone(), true, nil
}

// rawItem returns the stored form of one item, nil when absent. On a cache
// miss only the item is read; callers write afterwards, which refreshes the
// cache.
func (m *Manager) rawItem(ctx context.Context, name, itemName string) (*schema.Item, error) {
	if m.cache.Contains(name) {
		if entry, ok := m.cache.Get(name); ok {
			item, ok := entry.Value[itemName]
			if !ok {
				return nil, nil
			}
			return &item, nil
		}
	}
	return m.svc.ReadItem(ctx, name, itemName)
}

func (m *Manager) valueView(item schema.Item) string {
	if item.Type == schema.TypeScript {
		return decodeScript(item.Value)
	}
	return item.Value
}
