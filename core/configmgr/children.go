package configmgr

import (
	"context"

	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/configmgr/callback"
	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/configsvc"
)

// CreateChildCategory attaches children to parent. Existing edges are kept
// and edges that would close a cycle are refused. It returns the children
// of parent afterwards.
func (m *Manager) CreateChildCategory(ctx context.Context, parent string, children []string) (_ []string, err error) {
	defer func() { err = fail("create child category", err, "category", parent) }()

	if err := m.mustExist(ctx, parent); err != nil {
		return nil, err
	}
	for _, child := range children {
		if err := m.mustExist(ctx, child); err != nil {
			return nil, err
		}
	}
	existing, err := m.svc.ChildNames(ctx, parent)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		known[c] = struct{}{}
	}

	for _, child := range children {
		if _, ok := known[child]; ok {
			continue
		}
		if err := m.checkAcyclic(ctx, parent, child); err != nil {
			return nil, err
		}
		if err := m.svc.InsertChild(ctx, parent, child); err != nil {
			return nil, err
		}
		known[child] = struct{}{}
		existing = append(existing, child)
		if err := m.registry.NotifyChild(ctx, parent, child, callback.ChildCreated); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

func (m *Manager) checkAcyclic(ctx context.Context, parent, child string) error {
	if parent == child {
		return configerr.Valuef("category %s cannot be its own child", parent)
	}
	below, err := m.svc.Descendants(ctx, child)
	if err != nil {
		return err
	}
	for _, d := range below {
		if d == parent {
			return configerr.Valuef("adding %s under %s would create a cycle", child, parent)
		}
	}
	return nil
}

// DeleteChildCategory detaches child from parent and returns the remaining
// children.
func (m *Manager) DeleteChildCategory(ctx context.Context, parent, child string) (_ []string, err error) {
	defer func() { err = fail("delete child category", err, "category", parent, "child", child) }()

	if err := m.mustExist(ctx, parent); err != nil {
		return nil, err
	}
	if err := m.mustExist(ctx, child); err != nil {
		return nil, err
	}
	n, err := m.svc.DeleteChild(ctx, parent, child)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, configerr.Valuef("%s is not a child of %s", child, parent)
	}
	if err := m.registry.NotifyChild(ctx, parent, child, callback.ChildDeleted); err != nil {
		return nil, err
	}
	return m.svc.ChildNames(ctx, parent)
}

// DeleteParentCategory detaches every child of parent and returns how many
// edges were removed.
func (m *Manager) DeleteParentCategory(ctx context.Context, parent string) (_ int, err error) {
	defer func() { err = fail("delete parent category", err, "category", parent) }()

	if err := m.mustExist(ctx, parent); err != nil {
		return 0, err
	}
	children, err := m.svc.ChildNames(ctx, parent)
	if err != nil {
		return 0, err
	}
	n, err := m.svc.DeleteChildren(ctx, parent)
	if err != nil {
		return 0, err
	}
	for _, child := range children {
		if err := m.registry.NotifyChild(ctx, parent, child, callback.ChildDeleted); err != nil {
			return n, err
		}
	}
	return n, nil
}

// GetCategoryChild describes the direct children of name.
func (m *Manager) GetCategoryChild(ctx context.Context, name string) (_ []configsvc.CategoryInfo, err error) {
	defer func() { err = fail("get category children", err, "category", name) }()

	if err := m.mustExist(ctx, name); err != nil {
		return nil, err
	}
	return m.svc.Children(ctx, name)
}

// DeleteCategoryAndChildrenRecursively deletes name and all its
// descendants, children first, with their stored scripts. Nothing is
// deleted when a reserved category would go.
func (m *Manager) DeleteCategoryAndChildrenRecursively(ctx context.Context, name string) (_ []string, err error) {
	defer func() { err = fail("delete category recursively", err, "category", name) }()

	if err := m.mustExist(ctx, name); err != nil {
		return nil, err
	}
	below, err := m.svc.Descendants(ctx, name)
	if err != nil {
		return nil, err
	}
	scripts := make(map[string][]string)
	for _, cat := range append([]string{name}, below...) {
		if IsReserved(cat) {
			return nil, configerr.Valuef("reserved category %s cannot be deleted", cat)
		}
		items, _, err := m.category(ctx, cat)
		if err != nil {
			return nil, err
		}
		for _, itemName := range items.Names() {
			if items[itemName].Type == schema.TypeScript {
				scripts[cat] = append(scripts[cat], itemName)
			}
		}
	}

	deleted, err := m.svc.DeleteRecursive(ctx, name, IsReserved)
	for _, cat := range deleted {
		m.removeScripts(cat, scripts[cat])
	}
	return deleted, err
}

func (m *Manager) mustExist(ctx context.Context, name string) error {
	_, found, err := m.category(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return configerr.NotFoundf("no such category %s", name)
	}
	return nil
}
