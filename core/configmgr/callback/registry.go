// Package callback tracks subscribers interested in category changes.
//
// Two registries exist: one for value changes of a category and one for
// structural changes to its children. Registrations live for the process
// lifetime only.
package callback

import (
	"context"
	"strings"
	"sync"

	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/cordum/edgeconf/core/infra/metrics"
)

const component = "callback"

// ChildOp tags a structural change.
type ChildOp byte

const (
	ChildCreated ChildOp = 'c'
	ChildDeleted ChildOp = 'd'
)

func (op ChildOp) String() string {
	return string(op)
}

// NotificationHandler is told when a category value changed.
type NotificationHandler interface {
	OnCategoryChanged(ctx context.Context, category string) error
}

// ChildChangeHandler is told when a child was attached to or detached from
// a parent category.
type ChildChangeHandler interface {
	OnChildChanged(ctx context.Context, parent, child string, op ChildOp) error
}

// NotificationFunc adapts a function to NotificationHandler.
type NotificationFunc func(ctx context.Context, category string) error

func (f NotificationFunc) OnCategoryChanged(ctx context.Context, category string) error {
	return f(ctx, category)
}

// ChildChangeFunc adapts a function to ChildChangeHandler.
type ChildChangeFunc func(ctx context.Context, parent, child string, op ChildOp) error

func (f ChildChangeFunc) OnChildChanged(ctx context.Context, parent, child string, op ChildOp) error {
	return f(ctx, parent, child, op)
}

type subscription[H any] struct {
	id      string
	handler H
}

// interests is an ordered set of subscriptions per category.
type interests[H any] struct {
	byCategory map[string][]subscription[H]
}

func (in *interests[H]) add(category, id string, h H) {
	subs := in.byCategory[category]
	for i := range subs {
		if subs[i].id == id {
			subs[i].handler = h
			return
		}
	}
	in.byCategory[category] = append(subs, subscription[H]{id: id, handler: h})
}

func (in *interests[H]) remove(category, id string) bool {
	subs := in.byCategory[category]
	for i := range subs {
		if subs[i].id != id {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(in.byCategory, category)
		} else {
			in.byCategory[category] = subs
		}
		return true
	}
	return false
}

func (in *interests[H]) snapshot(category string) []subscription[H] {
	return append([]subscription[H](nil), in.byCategory[category]...)
}

// Registry maps category names to subscribers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	values   interests[NotificationHandler]
	children interests[ChildChangeHandler]
	metrics  metrics.ConfigMetrics
}

// NewRegistry returns an empty registry. A nil m disables metrics.
func NewRegistry(m metrics.ConfigMetrics) *Registry {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Registry{
		values:   interests[NotificationHandler]{byCategory: map[string][]subscription[NotificationHandler]{}},
		children: interests[ChildChangeHandler]{byCategory: map[string][]subscription[ChildChangeHandler]{}},
		metrics:  m,
	}
}

func checkArgs(category, subscriber string, handlerNil bool) error {
	if strings.TrimSpace(category) == "" {
		return configerr.Valuef("failed to register interest: category name cannot be empty")
	}
	if strings.TrimSpace(subscriber) == "" {
		return configerr.Valuef("failed to register interest: subscriber cannot be empty")
	}
	if handlerNil {
		return configerr.Valuef("failed to register interest: handler cannot be nil")
	}
	return nil
}

// Register subscribes h, identified by subscriber, to value changes of
// category. Re-registering an id replaces its handler in place.
func (r *Registry) Register(category, subscriber string, h NotificationHandler) error {
	if err := checkArgs(category, subscriber, h == nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values.add(category, subscriber, h)
	return nil
}

// Unregister removes subscriber from category. Unknown pairs are ignored.
func (r *Registry) Unregister(category, subscriber string) error {
	if err := checkArgs(category, subscriber, false); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values.remove(category, subscriber)
	return nil
}

// RegisterChild subscribes h to structural changes under parent.
func (r *Registry) RegisterChild(parent, subscriber string, h ChildChangeHandler) error {
	if err := checkArgs(parent, subscriber, h == nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children.add(parent, subscriber, h)
	return nil
}

// UnregisterChild removes subscriber from the structural registry of parent.
func (r *Registry) UnregisterChild(parent, subscriber string) error {
	if err := checkArgs(parent, subscriber, false); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children.remove(parent, subscriber)
	return nil
}

// Interests lists the subscribers of category in registration order.
func (r *Registry) Interests(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.values.byCategory[category]
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.id)
	}
	return out
}

// ChildInterests lists the structural subscribers of parent.
func (r *Registry) ChildInterests(parent string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.children.byCategory[parent]
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.id)
	}
	return out
}

// Notify runs every subscriber of category in registration order. The first
// failure stops the run and is returned.
func (r *Registry) Notify(ctx context.Context, category string) error {
	r.mu.RLock()
	subs := r.values.snapshot(category)
	r.mu.RUnlock()
	for _, s := range subs {
		if err := s.handler.OnCategoryChanged(ctx, category); err != nil {
			logging.Error(component, "category change callback failed", "category", category, "subscriber", s.id, "error", err)
			r.metrics.IncCallbackFailure(category)
			return configerr.Callback(s.id, category, err)
		}
	}
	return nil
}

// NotifyChild runs every structural subscriber of parent.
func (r *Registry) NotifyChild(ctx context.Context, parent, child string, op ChildOp) error {
	r.mu.RLock()
	subs := r.children.snapshot(parent)
	r.mu.RUnlock()
	for _, s := range subs {
		if err := s.handler.OnChildChanged(ctx, parent, child, op); err != nil {
			logging.Error(component, "child change callback failed", "parent", parent, "child", child, "op", op.String(), "subscriber", s.id, "error", err)
			r.metrics.IncCallbackFailure(parent)
			return configerr.Callback(s.id, parent, err)
		}
	}
	return nil
}
