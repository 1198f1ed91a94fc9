package callback

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/infra/bus"
)

func recorder(calls *[]string, name string, fail error) NotificationFunc {
	return func(_ context.Context, category string) error {
		*calls = append(*calls, name+":"+category)
		return fail
	}
}

func TestRegisterValidatesArguments(t *testing.T) {
	r := NewRegistry(nil)
	noop := NotificationFunc(func(context.Context, string) error { return nil })
	if err := r.Register("", "s", noop); !errors.Is(err, configerr.ErrValue) {
		t.Fatalf("expected value error for empty category, got %v", err)
	}
	if err := r.Register("c", "", noop); !errors.Is(err, configerr.ErrValue) {
		t.Fatalf("expected value error for empty subscriber, got %v", err)
	}
	if err := r.Register("c", "s", nil); !errors.Is(err, configerr.ErrValue) {
		t.Fatalf("expected value error for nil handler, got %v", err)
	}
	if err := r.Unregister("", "s"); !errors.Is(err, configerr.ErrValue) {
		t.Fatalf("expected value error on unregister")
	}
	if err := r.RegisterChild("p", "s", nil); !errors.Is(err, configerr.ErrValue) {
		t.Fatalf("expected value error for nil child handler")
	}
}

func TestNotifyRunsInRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	_ = r.Register("rest_api", "b", recorder(&calls, "b", nil))
	_ = r.Register("rest_api", "a", recorder(&calls, "a", nil))
	_ = r.Register("rest_api", "b", recorder(&calls, "b2", nil))
	_ = r.Register("other", "a", recorder(&calls, "a", nil))

	if err := r.Notify(context.Background(), "rest_api"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if want := []string{"b2:rest_api", "a:rest_api"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("unexpected calls %v", calls)
	}
	if got := r.Interests("rest_api"); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("unexpected interests %v", got)
	}

	_ = r.Unregister("rest_api", "b")
	_ = r.Unregister("rest_api", "missing")
	if got := r.Interests("rest_api"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("unexpected interests after unregister %v", got)
	}
	if err := r.Notify(context.Background(), "nobody"); err != nil {
		t.Fatalf("notify without subscribers: %v", err)
	}
}

func TestNotifyStopsAtFirstFailure(t *testing.T) {
	r := NewRegistry(nil)
	var calls []string
	boom := errors.New("boom")
	_ = r.Register("c", "first", recorder(&calls, "first", boom))
	_ = r.Register("c", "second", recorder(&calls, "second", nil))

	err := r.Notify(context.Background(), "c")
	if !errors.Is(err, configerr.ErrCallback) || !errors.Is(err, boom) {
		t.Fatalf("expected callback error wrapping boom, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected second subscriber skipped, got %v", calls)
	}
}

func TestNotifyChild(t *testing.T) {
	r := NewRegistry(nil)
	var got []string
	h := ChildChangeFunc(func(_ context.Context, parent, child string, op ChildOp) error {
		got = append(got, parent+"/"+child+"/"+op.String())
		return nil
	})
	if err := r.RegisterChild("South", "dispatcher", h); err != nil {
		t.Fatalf("register child: %v", err)
	}
	_ = r.NotifyChild(context.Background(), "South", "modbus", ChildCreated)
	_ = r.NotifyChild(context.Background(), "South", "modbus", ChildDeleted)
	if !reflect.DeepEqual(got, []string{"South/modbus/c", "South/modbus/d"}) {
		t.Fatalf("unexpected child calls %v", got)
	}
	_ = r.UnregisterChild("South", "dispatcher")
	if len(r.ChildInterests("South")) != 0 {
		t.Fatalf("expected no child interests")
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []*bus.Event
}

func (p *fakePublisher) Publish(subject string, ev *bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, ev)
	return nil
}

func TestBusForwarder(t *testing.T) {
	pub := &fakePublisher{}
	f := NewBusForwarder(pub)
	r := NewRegistry(nil)
	_ = r.Register("rest_api", "bus", f)
	_ = r.RegisterChild("South", "bus", f)

	_ = r.Notify(context.Background(), "rest_api")
	_ = r.NotifyChild(context.Background(), "South", "modbus", ChildCreated)

	if !reflect.DeepEqual(pub.subjects, []string{"config.changed.rest_api", "config.child.South"}) {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	if pub.events[1].Data["op"] != "c" || pub.events[1].Data["child"] != "modbus" {
		t.Fatalf("unexpected child event %#v", pub.events[1].Data)
	}
}
