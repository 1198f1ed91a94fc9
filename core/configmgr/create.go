package configmgr

import (
	"context"
	"strings"

	"github.com/cordum/edgeconf/core/acl"
	"github.com/cordum/edgeconf/core/audit"
	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/configsvc"
	"github.com/cordum/edgeconf/core/infra/logging"
)

type createOptions struct {
	keepOriginal bool
	displayName  string
}

// CreateOption tunes CreateCategory.
type CreateOption func(*createOptions)

// WithKeepOriginalItems carries stored items missing from the new
// definition into the merged result.
func WithKeepOriginalItems() CreateOption {
	return func(o *createOptions) { o.keepOriginal = true }
}

// WithDisplayName sets the display name of the category.
func WithDisplayName(name string) CreateOption {
	return func(o *createOptions) { o.displayName = name }
}

// CreateCategory creates name from value, or merges value into the stored
// category. value is a map of item name to item definition; every item gets
// its value from its default. Subscribers of name are always notified once
// the write is done, even when nothing changed.
func (m *Manager) CreateCategory(ctx context.Context, name string, value any, description string, opts ...CreateOption) (err error) {
	defer func() { err = fail("create category", err, "category", name) }()

	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(name) == "" {
		return configerr.Valuef("category name cannot be empty")
	}

	prepared, err := schema.Validate(name, value, true)
	if err != nil {
		return err
	}
	for _, itemName := range prepared.Names() {
		if err := checkRule(name, itemName, prepared[itemName], prepared[itemName].Value); err != nil {
			return configerr.Valuef("for %s category, the default value of %s does not satisfy its rule", name, itemName)
		}
	}
	encodeScripts(prepared)

	stored, err := m.svc.ReadRaw(ctx, name)
	if err != nil {
		return err
	}
	if stored == nil {
		if err := m.svc.Insert(ctx, name, description, prepared, o.displayName); err != nil {
			return err
		}
	} else if err := m.mergeStored(ctx, name, description, prepared, stored, o); err != nil {
		return err
	}

	if err := m.attachACL(ctx, name); err != nil {
		return err
	}
	return m.runCallbacks(ctx, name)
}

func (m *Manager) mergeStored(ctx context.Context, name, description string, prepared schema.Items, stored *configsvc.Category, o createOptions) error {
	storedItems, verr := schema.Validate(name, stored.Raw, false)
	if verr != nil {
		logging.Error(component, "stored category is corrupt, replacing it", "category", name, "error", verr)
		return m.svc.Update(ctx, name, description, prepared, nil, o.displayName)
	}

	merged := schema.Merge(prepared, storedItems, o.keepOriginal)
	for _, d := range merged.Deprecated {
		details := map[string]any{"category": name, "item": d.Name, "deprecated": true, "newValue": d.New.Map()}
		if d.Old != nil {
			details["oldValue"] = d.Old.Map()
		}
		if err := m.audit.Information(ctx, audit.CodeCategoryChanged, details); err != nil {
			logging.Warn(component, "audit record failed", "category", name, "item", d.Name, "error", err)
		}
	}

	same, err := configsvc.SameItems(merged.Items, storedItems)
	if err != nil {
		return err
	}
	displayChanged := o.displayName != "" && o.displayName != stored.DisplayName
	if same && !displayChanged {
		return nil
	}
	return m.svc.Update(ctx, name, description, merged.Items, storedItems, o.displayName)
}

// attachACL reports an ACL found in the subtree of name to the ACL
// collaborator.
func (m *Manager) attachACL(ctx context.Context, name string) error {
	if m.acl == nil {
		return nil
	}
	ref, err := m.SearchForACL(ctx, name)
	if err != nil || ref == nil || ref.Value == "" {
		return err
	}
	return m.acl.HandleCreateForACLUsage(ctx, ref.Category, ref.Value, acl.EntityService, false, "")
}

func checkRule(category, itemName string, item schema.Item, value string) error {
	if item.Rule == "" {
		return nil
	}
	ok, err := schema.EvalRule(item.Rule, value)
	if err != nil {
		return err
	}
	if !ok {
		return configerr.Valuef("the value of %s in category %s does not satisfy the rule %s", itemName, category, item.Rule)
	}
	return nil
}
