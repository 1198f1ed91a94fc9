package configmgr

import (
	"context"
	"sort"
	"strings"

	"github.com/cordum/edgeconf/core/acl"
	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/configmgr/schema"
)

type setOptions struct {
	scriptFile string
	caller     *Caller
}

// SetOption tunes SetCategoryItemValueEntry.
type SetOption func(*setOptions)

// WithScriptFile stores the uploaded script at path alongside a script item.
func WithScriptFile(path string) SetOption {
	return func(o *setOptions) { o.scriptFile = path }
}

// WithCaller checks item permissions against caller.
func WithCaller(caller *Caller) SetOption {
	return func(o *setOptions) { o.caller = caller }
}

// SetCategoryItemValueEntry sets the value of one item. Setting the current
// value is a no-op; any other change notifies the category subscribers.
func (m *Manager) SetCategoryItemValueEntry(ctx context.Context, name, itemName, newValue string, opts ...SetOption) (err error) {
	defer func() { err = fail("set category item value", err, "category", name, "item", itemName) }()

	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	item, err := m.rawItem(ctx, name, itemName)
	if err != nil {
		return err
	}
	if item == nil {
		return configerr.NotFoundf("no detail found for category %s and item %s", name, itemName)
	}
	stored := newValue
	if item.Type == schema.TypeScript {
		stored = encodeScript(newValue)
	}
	if stored == item.Value && o.scriptFile == "" {
		return nil
	}
	if err := checkPermission(o.caller, name, itemName, *item); err != nil {
		return err
	}
	if item.Type != schema.TypeScript {
		if stored, err = checkItemValue(name, itemName, *item, newValue); err != nil {
			return err
		}
		if stored == item.Value {
			return nil
		}
	}
	if o.scriptFile != "" {
		if _, err := m.storeScript(name, itemName, o.scriptFile); err != nil {
			return configerr.Valuef("store script for %s.%s: %v", name, itemName, err)
		}
	}

	if err := m.svc.UpdateItemValue(ctx, name, itemName, stored, item.Value); err != nil {
		return err
	}
	if item.Type == schema.TypeACL {
		if err := m.syncACL(ctx, name, item.Value, stored); err != nil {
			return err
		}
	}
	return m.runCallbacks(ctx, name)
}

// SetOptionalValueEntry changes an optional attribute of one item. It does
// not notify subscribers.
func (m *Manager) SetOptionalValueEntry(ctx context.Context, name, itemName, attr, newValue string) (err error) {
	defer func() { err = fail("set optional attribute", err, "category", name, "item", itemName, "attribute", attr) }()

	item, err := m.rawItem(ctx, name, itemName)
	if err != nil {
		return err
	}
	if item == nil {
		return configerr.NotFoundf("no detail found for category %s and item %s", name, itemName)
	}
	updated, err := schema.WithOptional(*item, attr, newValue)
	if err != nil {
		return err
	}

	var stored any
	switch attr {
	case schema.AttrOptions:
		if updated.Type == schema.TypeEnumeration && !containsString(updated.Options, updated.Value) {
			return configerr.Valuef("current value %q of %s is not among the new options", updated.Value, itemName)
		}
		stored = updated.Options
	case schema.AttrPermissions:
		stored = updated.Permissions
	default:
		stored, _ = updated.Optional(attr)
	}
	return m.svc.UpdateItemOptional(ctx, name, itemName, attr, stored)
}

// UpdateConfigurationItemBulk sets several item values of name in one
// write. Unchanged items are skipped; when nothing changes no write is made
// and nobody is notified.
func (m *Manager) UpdateConfigurationItemBulk(ctx context.Context, name string, values map[string]string, caller *Caller) (err error) {
	defer func() { err = fail("bulk update", err, "category", name) }()

	current, found, err := m.category(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return configerr.NotFoundf("no such category %s", name)
	}

	names := make([]string, 0, len(values))
	for itemName := range values {
		names = append(names, itemName)
	}
	sort.Strings(names)

	changes := make(map[string]string, len(values))
	for _, itemName := range names {
		item, ok := current[itemName]
		if !ok {
			return configerr.Keyf("%s config item not found", itemName)
		}
		if schema.IsTrue(item.Readonly) {
			return configerr.Typef("bulk update not allowed for %s item as it has readonly attribute set", itemName)
		}
		newValue := values[itemName]
		stored := newValue
		if item.Type == schema.TypeScript {
			stored = encodeScript(newValue)
		}
		if stored == item.Value {
			continue
		}
		if err := checkPermission(caller, name, itemName, item); err != nil {
			return err
		}
		if item.Type != schema.TypeScript {
			if stored, err = checkItemValue(name, itemName, item, newValue); err != nil {
				return err
			}
		}
		if stored != item.Value {
			changes[itemName] = stored
		}
	}
	if len(changes) == 0 {
		return nil
	}

	changed, err := m.svc.UpdateItemsBulk(ctx, name, current, changes)
	if err != nil || !changed {
		return err
	}
	for _, itemName := range names {
		if v, ok := changes[itemName]; ok && current[itemName].Type == schema.TypeACL {
			if err := m.syncACL(ctx, name, current[itemName].Value, v); err != nil {
				return err
			}
		}
	}
	return m.runCallbacks(ctx, name)
}

// checkItemValue validates v for item and returns the form to store.
func checkItemValue(category, itemName string, item schema.Item, v string) (string, error) {
	if schema.IsTrue(item.Mandatory) && strings.TrimSpace(v) == "" {
		return "", configerr.Valuef("a value must be given for %s", itemName)
	}
	normalized, err := schema.NormalizeValue(item, v)
	if err != nil {
		return "", err
	}
	if err := schema.CheckConstraints(item, v); err != nil {
		return "", err
	}
	if err := checkRule(category, itemName, item, v); err != nil {
		return "", err
	}
	return normalized, nil
}

func checkPermission(caller *Caller, category, itemName string, item schema.Item) error {
	if caller.privileged() || len(item.Permissions) == 0 {
		return nil
	}
	if containsString(item.Permissions, caller.Role) {
		return nil
	}
	return configerr.Forbiddenf("role %s may not change %s of %s", caller.Role, itemName, category)
}

// syncACL tells the ACL collaborator how the ACL item of name moved.
func (m *Manager) syncACL(ctx context.Context, name, oldValue, newValue string) error {
	if m.acl == nil {
		return nil
	}
	switch {
	case oldValue != "" && newValue != "":
		return m.acl.HandleUpdateForACLUsage(ctx, name, newValue, acl.EntityService)
	case newValue != "":
		return m.acl.HandleCreateForACLUsage(ctx, name, newValue, acl.EntityService, true, "")
	case oldValue != "":
		return m.acl.HandleDeleteForACLUsage(ctx, name, oldValue, acl.EntityService, true)
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
