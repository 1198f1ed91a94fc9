package callback

import (
	"context"

	"github.com/cordum/edgeconf/core/infra/bus"
)

// BusForwarder republishes change notifications on the bus so that other
// processes can react to them.
type BusForwarder struct {
	pub bus.Publisher
}

// NewBusForwarder returns a forwarder publishing through pub.
func NewBusForwarder(pub bus.Publisher) *BusForwarder {
	return &BusForwarder{pub: pub}
}

// OnCategoryChanged publishes config.changed.<category>.
func (f *BusForwarder) OnCategoryChanged(_ context.Context, category string) error {
	ev := bus.NewEvent("config.changed", map[string]any{"category": category})
	return f.pub.Publish(bus.SubjectConfigChanged+category, ev)
}

// OnChildChanged publishes config.child.<parent>.
func (f *BusForwarder) OnChildChanged(_ context.Context, parent, child string, op ChildOp) error {
	ev := bus.NewEvent("config.child", map[string]any{"parent": parent, "child": child, "op": op.String()})
	return f.pub.Publish(bus.SubjectConfigChild+parent, ev)
}
