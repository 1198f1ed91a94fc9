package storage

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStorage(t *testing.T) *RedisStorage {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client)
}

func TestInsertAndQuery(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	row := Row{"key": "rest_api", "description": "REST", "value": map[string]any{"port": map[string]any{"value": "8081"}}}
	if _, err := s.Insert(ctx, "configuration", row); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := s.QueryWithPayload(ctx, "configuration", Query{Where: []Condition{Where("key", "rest_api")}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Count != 1 || res.Rows[0]["description"] != "REST" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if _, ok := res.Rows[0]["ts"]; !ok {
		t.Fatalf("expected timestamp column")
	}

	_, err = s.Insert(ctx, "configuration", row)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected storage error on duplicate, got %v", err)
	}
	if serr.Map()["entryPoint"] != "insert" {
		t.Fatalf("unexpected payload %#v", serr.Map())
	}
}

func TestQueryEmptyTableReturnsRows(t *testing.T) {
	s := newTestStorage(t)
	res, err := s.QueryWithPayload(context.Background(), "configuration", Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Rows == nil || res.Count != 0 {
		t.Fatalf("expected empty non-nil rows, got %#v", res)
	}
}

func TestAutoIDAndSort(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for _, child := range []string{"b", "a", "c"} {
		if _, err := s.Insert(ctx, "category_children", Row{"parent": "P", "child": child}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	res, err := s.QueryWithPayload(ctx, "category_children", Query{Return: []string{"child"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Count != 3 || res.Rows[0]["child"] != "b" || res.Rows[2]["child"] != "c" {
		t.Fatalf("expected insertion order, got %#v", res.Rows)
	}

	res, err = s.QueryWithPayload(ctx, "category_children", Query{Sort: &Sort{Column: "child", Desc: true}, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Count != 2 || res.Rows[0]["child"] != "c" {
		t.Fatalf("unexpected sorted rows %#v", res.Rows)
	}
}

func TestQueryDistinctAndIn(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for _, r := range []Row{{"parent": "P", "child": "a"}, {"parent": "P", "child": "b"}, {"parent": "Q", "child": "a"}} {
		if _, err := s.Insert(ctx, "category_children", r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	res, err := s.QueryWithPayload(ctx, "category_children", Query{Return: []string{"parent"}, Distinct: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected two distinct parents, got %#v", res.Rows)
	}

	res, err = s.QueryWithPayload(ctx, "category_children", Query{Where: []Condition{
		{Column: "child", Op: OpNotIn, Value: []string{"b"}},
		{Column: "parent", Op: OpIn, Value: []any{"Q"}},
	}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Count != 1 || res.Rows[0]["parent"] != "Q" {
		t.Fatalf("unexpected rows %#v", res.Rows)
	}

	if _, err := s.QueryWithPayload(ctx, "category_children", Query{Where: []Condition{{Column: "x", Op: "like"}}}); err == nil {
		t.Fatalf("expected error for unsupported operator")
	}
}

func TestUpdateJSONProperty(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	value := map[string]any{
		"http.port": map[string]any{"value": "8081", "type": "integer"},
	}
	if _, err := s.Insert(ctx, "configuration", Row{"key": "rest_api", "value": value}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	resp, err := s.Update(ctx, "configuration", UpdatePayload{Updates: []Patch{{
		JSONProperties: []JSONProperty{{Column: "value", Path: []string{"http.port", "value"}, Value: "9090"}},
		Where:          []Condition{Where("key", "rest_api")},
	}}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if resp.Rows != 1 {
		t.Fatalf("expected one row updated, got %d", resp.Rows)
	}

	res, err := s.QueryJSON(ctx, "configuration", Query{Where: []Condition{Where("key", "rest_api")}},
		JSONReturn{Column: "value", Path: []string{"http.port", "value"}, Alias: "port"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Rows[0]["port"] != "9090" {
		t.Fatalf("unexpected port %#v", res.Rows[0])
	}
	item := res.Rows[0]["value"].(map[string]any)["http.port"].(map[string]any)
	if item["type"] != "integer" {
		t.Fatalf("sibling attribute lost: %#v", item)
	}
}

func TestUpdateValuesAndNoMatch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, "configuration", Row{"key": "A", "description": "old"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	resp, err := s.Update(ctx, "configuration", UpdatePayload{Updates: []Patch{{
		Values: map[string]any{"description": "new", "display_name": "Alpha"},
		Where:  []Condition{Where("key", "A")},
	}}})
	if err != nil || resp.Rows != 1 {
		t.Fatalf("update: resp=%#v err=%v", resp, err)
	}
	res, _ := s.QueryWithPayload(ctx, "configuration", Query{Where: []Condition{Where("key", "A")}})
	if res.Rows[0]["description"] != "new" || res.Rows[0]["display_name"] != "Alpha" {
		t.Fatalf("unexpected row %#v", res.Rows[0])
	}

	resp, err = s.Update(ctx, "configuration", UpdatePayload{Updates: []Patch{{
		Values: map[string]any{"description": "x"},
		Where:  []Condition{Where("key", "missing")},
	}}})
	if err != nil || resp.Rows != 0 {
		t.Fatalf("expected zero rows updated, resp=%#v err=%v", resp, err)
	}
	if _, err := s.Update(ctx, "configuration", UpdatePayload{}); err == nil {
		t.Fatalf("expected error for empty update")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for _, r := range []Row{{"parent": "P", "child": "a"}, {"parent": "P", "child": "b"}, {"parent": "Q", "child": "a"}} {
		if _, err := s.Insert(ctx, "category_children", r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	resp, err := s.Delete(ctx, "category_children", Filter{Where: []Condition{Where("parent", "P")}})
	if err != nil || resp.Rows != 2 {
		t.Fatalf("delete: resp=%#v err=%v", resp, err)
	}
	res, _ := s.QueryWithPayload(ctx, "category_children", Query{})
	if res.Count != 1 {
		t.Fatalf("expected one remaining row, got %d", res.Count)
	}
	resp, err = s.Delete(ctx, "category_children", Filter{})
	if err != nil || resp.Rows != 1 {
		t.Fatalf("delete all: resp=%#v err=%v", resp, err)
	}
}

func TestMissingKeyWithoutAutoID(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Insert(context.Background(), "configuration", Row{"description": "x"}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := s.Insert(context.Background(), "", Row{"key": "x"}); err == nil {
		t.Fatalf("expected table name error")
	}
}

func TestJSONPathEscapes(t *testing.T) {
	if got := JSONPath("value", "a.b", "c*"); got != `value.a\.b.c\*` {
		t.Fatalf("unexpected path %s", got)
	}
}
