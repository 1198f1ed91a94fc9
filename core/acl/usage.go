// Package acl tracks which entities are attached to which access control
// list.
package acl

import (
	"context"
	"fmt"
	"strings"

	"github.com/cordum/edgeconf/core/infra/bus"
	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/cordum/edgeconf/core/storage"
)

// Table holds one row per (acl, entity) attachment.
const Table = "acl_usage"

// Entity types.
const (
	EntityService      = "service"
	EntityNotification = "notification"
)

const component = "acl"

// Usage is the ACL side channel consumed by the configuration manager.
type Usage interface {
	HandleCreateForACLUsage(ctx context.Context, entityName, acl, entityType string, notifyService bool, aclToDelete string) error
	HandleUpdateForACLUsage(ctx context.Context, entityName, acl, entityType string) error
	HandleDeleteForACLUsage(ctx context.Context, entityName, acl, entityType string, notifyService bool) error
}

// Manager implements Usage on the acl_usage table and optionally announces
// attachments on the bus so the affected service reloads its ACL.
type Manager struct {
	store storage.Storage
	pub   bus.Publisher
}

// NewManager returns a Manager; pub may be nil.
func NewManager(store storage.Storage, pub bus.Publisher) *Manager {
	return &Manager{store: store, pub: pub}
}

// HandleCreateForACLUsage attaches acl to the entity. When aclToDelete is set
// that attachment is removed first.
func (m *Manager) HandleCreateForACLUsage(ctx context.Context, entityName, acl, entityType string, notifyService bool, aclToDelete string) error {
	if err := checkArgs(entityName, acl, entityType); err != nil {
		return err
	}
	if aclToDelete != "" {
		if err := m.detach(ctx, entityName, aclToDelete, entityType); err != nil {
			return err
		}
	}
	exists, err := m.attached(ctx, entityName, acl, entityType)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := m.store.Insert(ctx, Table, storage.Row{
			"name":        acl,
			"entity_type": entityType,
			"entity_name": entityName,
		}); err != nil {
			return fmt.Errorf("attach acl %s to %s: %w", acl, entityName, err)
		}
	}
	if notifyService {
		m.announce("attached", entityName, acl, entityType)
	}
	return nil
}

// HandleUpdateForACLUsage replaces whatever acl the entity was attached to.
func (m *Manager) HandleUpdateForACLUsage(ctx context.Context, entityName, acl, entityType string) error {
	if err := checkArgs(entityName, acl, entityType); err != nil {
		return err
	}
	if _, err := m.store.Update(ctx, Table, storage.UpdatePayload{Updates: []storage.Patch{{
		Values: map[string]any{"name": acl},
		Where: []storage.Condition{
			storage.Where("entity_name", entityName),
			storage.Where("entity_type", entityType),
		},
	}}}); err != nil {
		return fmt.Errorf("update acl usage of %s: %w", entityName, err)
	}
	m.announce("updated", entityName, acl, entityType)
	return nil
}

// HandleDeleteForACLUsage detaches acl from the entity.
func (m *Manager) HandleDeleteForACLUsage(ctx context.Context, entityName, acl, entityType string, notifyService bool) error {
	if err := checkArgs(entityName, acl, entityType); err != nil {
		return err
	}
	if err := m.detach(ctx, entityName, acl, entityType); err != nil {
		return err
	}
	if notifyService {
		m.announce("detached", entityName, acl, entityType)
	}
	return nil
}

// Attachments lists the acl names attached to entityName.
func (m *Manager) Attachments(ctx context.Context, entityName string) ([]string, error) {
	res, err := m.store.QueryWithPayload(ctx, Table, storage.Query{
		Return: []string{"name"},
		Where:  []storage.Condition{storage.Where("entity_name", entityName)},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if name, ok := row["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *Manager) attached(ctx context.Context, entityName, acl, entityType string) (bool, error) {
	res, err := m.store.QueryWithPayload(ctx, Table, storage.Query{Where: []storage.Condition{
		storage.Where("name", acl),
		storage.Where("entity_name", entityName),
		storage.Where("entity_type", entityType),
	}, Limit: 1})
	if err != nil {
		return false, err
	}
	return res.Count > 0, nil
}

func (m *Manager) detach(ctx context.Context, entityName, acl, entityType string) error {
	if _, err := m.store.Delete(ctx, Table, storage.Filter{Where: []storage.Condition{
		storage.Where("name", acl),
		storage.Where("entity_name", entityName),
		storage.Where("entity_type", entityType),
	}}); err != nil {
		return fmt.Errorf("detach acl %s from %s: %w", acl, entityName, err)
	}
	return nil
}

func (m *Manager) announce(op, entityName, acl, entityType string) {
	if m.pub == nil {
		return
	}
	ev := bus.NewEvent("acl.usage", map[string]any{
		"op":          op,
		"acl":         acl,
		"entity_name": entityName,
		"entity_type": entityType,
	})
	if err := m.pub.Publish(bus.SubjectACLUsage+op, ev); err != nil {
		logging.Warn(component, "acl usage notification failed", "entity", entityName, "acl", acl, "error", err)
	}
}

func checkArgs(entityName, acl, entityType string) error {
	if strings.TrimSpace(entityName) == "" || strings.TrimSpace(acl) == "" {
		return fmt.Errorf("entity name and acl required")
	}
	switch entityType {
	case EntityService, EntityNotification:
		return nil
	default:
		return fmt.Errorf("unsupported entity type %q", entityType)
	}
}
