package firewall

import (
	"testing"

	"github.com/cordum/edgeconf/core/configmgr/schema"
)

func listItem(v string) schema.Item {
	return schema.Item{Type: schema.TypeList, Items: schema.ElemString, Description: "ips", Default: "[]", Value: v}
}

func TestAllowListDefaultsOpen(t *testing.T) {
	a := New()
	if !a.Allowed("10.1.2.3") {
		t.Fatalf("expected open allow list")
	}
	if a.Allowed("not-an-ip") {
		t.Fatalf("expected invalid address to be refused")
	}
}

func TestAllowListUpdate(t *testing.T) {
	a := New()
	err := a.Update(schema.Items{
		ItemAllowed: listItem(`["10.0.0.0/8","192.168.1.5"]`),
		ItemDenied:  listItem(`["10.0.0.13"]`),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	cases := map[string]bool{
		"10.4.4.4":        true,
		"10.0.0.13":       false,
		"192.168.1.5":     true,
		"192.168.1.6":     false,
		"::ffff:10.1.1.1": true,
	}
	for ip, want := range cases {
		if got := a.Allowed(ip); got != want {
			t.Fatalf("%s: expected %v got %v", ip, want, got)
		}
	}
}

func TestAllowListListName(t *testing.T) {
	a := New()
	item := listItem(`{"ips":["127.0.0.1"]}`)
	item.ListName = "ips"
	if err := a.Update(schema.Items{ItemAllowed: item}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !a.Allowed("127.0.0.1") || a.Allowed("127.0.0.2") {
		t.Fatalf("unexpected decision")
	}
}

func TestAllowListRejectsGarbage(t *testing.T) {
	a := New()
	if err := a.Update(schema.Items{ItemDenied: listItem(`["nope"]`)}); err == nil {
		t.Fatalf("expected parse error")
	}
}
