// Package configsvc owns every read and write of the configuration and
// category_children tables, keeps the category cache in step with storage
// and records an audit entry for each mutation.
package configsvc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cordum/edgeconf/core/acl"
	"github.com/cordum/edgeconf/core/audit"
	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/configmgr/cache"
	"github.com/cordum/edgeconf/core/configmgr/schema"
	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/cordum/edgeconf/core/infra/metrics"
	"github.com/cordum/edgeconf/core/storage"
	json "github.com/goccy/go-json"
)

// Tables.
const (
	TableConfiguration = "configuration"
	TableChildren      = "category_children"
)

const component = "configsvc"

// Category is one row of the configuration table.
type Category struct {
	Name        string       `json:"key"`
	Description string       `json:"description"`
	DisplayName string       `json:"displayName"`
	Value       schema.Items `json:"value"`
	// Raw is the stored value as decoded from the row.
	Raw any `json:"-"`
}

// CategoryInfo describes a category without its items.
type CategoryInfo struct {
	Key         string         `json:"key"`
	Description string         `json:"description"`
	DisplayName string         `json:"displayName"`
	Children    []CategoryInfo `json:"children,omitempty"`
}

// RootFilter selects categories by their position in the tree.
type RootFilter int

const (
	// AllCategories lists every category.
	AllCategories RootFilter = iota
	// RootOnly lists categories that are nobody's child.
	RootOnly
	// NonRoot lists categories that are somebody's child.
	NonRoot
)

// JSONQuerier is implemented by stores able to extract JSON sub-documents
// server side.
type JSONQuerier interface {
	QueryJSON(ctx context.Context, table string, q storage.Query, extract ...storage.JSONReturn) (*storage.Result, error)
}

// Service is the configuration store façade.
type Service struct {
	store   storage.Storage
	cache   *cache.Cache
	audit   audit.Logger
	metrics metrics.ConfigMetrics
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit collaborator.
func WithAudit(l audit.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithMetrics records write counts.
func WithMetrics(m metrics.ConfigMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New builds a façade over store keeping c up to date.
func New(store storage.Storage, c *cache.Cache, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cache:   c,
		audit:   audit.Noop{},
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache exposes the cache kept by the façade.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Read fetches category name and refreshes the cache. It returns nil when
// the category does not exist.
func (s *Service) Read(ctx context.Context, name string) (*Category, error) {
	row, err := s.readRow(ctx, name)
	if err != nil || row == nil {
		return nil, err
	}
	cat, err := decodeCategory(row)
	if err != nil {
		return nil, err
	}
	s.cache.Update(cat.Name, cat.Description, cat.Value, cat.DisplayName)
	return cat, nil
}

// ReadRaw fetches category name without decoding its items, so a row whose
// items no longer decode can still be inspected and replaced. Only Raw and
// the header fields are set. The cache is left alone.
func (s *Service) ReadRaw(ctx context.Context, name string) (*Category, error) {
	row, err := s.readRow(ctx, name)
	if err != nil || row == nil {
		return nil, err
	}
	cat := headerOf(row)
	cat.Raw = row["value"]
	return cat, nil
}

func (s *Service) readRow(ctx context.Context, name string) (storage.Row, error) {
	res, err := s.store.QueryWithPayload(ctx, TableConfiguration, storage.Query{
		Where: []storage.Condition{storage.Where("key", name)},
		Limit: 1,
	})
	if err != nil {
		return nil, translate(err)
	}
	rows, err := rowsOf(res)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// ReadItem fetches one item of category name; nil when either is absent.
func (s *Service) ReadItem(ctx context.Context, name, item string) (*schema.Item, error) {
	raw, found, err := s.readPath(ctx, name, item)
	if err != nil || !found {
		return nil, err
	}
	var out schema.Item
	if err := remarshal(raw, &out); err != nil {
		return nil, configerr.Valuef("decode item %s of %s: %v", item, name, err)
	}
	return &out, nil
}

// ReadItemValue fetches the value entry of one item.
func (s *Service) ReadItemValue(ctx context.Context, name, item string) (string, bool, error) {
	raw, found, err := s.readPath(ctx, name, item, schema.AttrValue)
	if err != nil || !found {
		return "", false, err
	}
	v, ok := raw.(string)
	if !ok {
		return "", false, configerr.Typef("value of %s.%s is not a string", name, item)
	}
	return v, true, nil
}

func (s *Service) readPath(ctx context.Context, name string, path ...string) (any, bool, error) {
	q := storage.Query{Where: []storage.Condition{storage.Where("key", name)}, Limit: 1}
	if jq, ok := s.store.(JSONQuerier); ok {
		const alias = "extracted"
		q.Return = []string{"key"}
		res, err := jq.QueryJSON(ctx, TableConfiguration, q, storage.JSONReturn{Column: "value", Path: path, Alias: alias})
		if err != nil {
			return nil, false, translate(err)
		}
		rows, err := rowsOf(res)
		if err != nil || len(rows) == 0 {
			return nil, false, err
		}
		v, ok := rows[0][alias]
		return v, ok, nil
	}

	res, err := s.store.QueryWithPayload(ctx, TableConfiguration, q)
	if err != nil {
		return nil, false, translate(err)
	}
	rows, err := rowsOf(res)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	var cur any = rows[0]["value"]
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		if cur, ok = m[p]; !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}

// ListCategories lists categories filtered by tree position, sorted by key.
func (s *Service) ListCategories(ctx context.Context, filter RootFilter) ([]CategoryInfo, error) {
	res, err := s.store.QueryWithPayload(ctx, TableConfiguration, storage.Query{
		Return: []string{"key", "description", "display_name"},
		Sort:   &storage.Sort{Column: "key"},
	})
	if err != nil {
		return nil, translate(err)
	}
	rows, err := rowsOf(res)
	if err != nil {
		return nil, err
	}
	var children map[string]struct{}
	if filter != AllCategories {
		if children, err = s.allChildren(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]CategoryInfo, 0, len(rows))
	for _, row := range rows {
		info := infoOf(row)
		_, isChild := children[info.Key]
		switch {
		case filter == RootOnly && isChild:
			continue
		case filter == NonRoot && !isChild:
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// ListCategoryTree is ListCategories with every entry expanded into its
// children, recursively.
func (s *Service) ListCategoryTree(ctx context.Context, filter RootFilter) ([]CategoryInfo, error) {
	roots, err := s.ListCategories(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range roots {
		visited := map[string]struct{}{roots[i].Key: {}}
		if roots[i].Children, err = s.subtree(ctx, roots[i].Key, visited); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

func (s *Service) subtree(ctx context.Context, name string, visited map[string]struct{}) ([]CategoryInfo, error) {
	kids, err := s.Children(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]CategoryInfo, 0, len(kids))
	for _, kid := range kids {
		if _, seen := visited[kid.Key]; seen {
			continue
		}
		visited[kid.Key] = struct{}{}
		if kid.Children, err = s.subtree(ctx, kid.Key, visited); err != nil {
			return nil, err
		}
		out = append(out, kid)
	}
	return out, nil
}

func (s *Service) allChildren(ctx context.Context) (map[string]struct{}, error) {
	res, err := s.store.QueryWithPayload(ctx, TableChildren, storage.Query{Return: []string{"child"}, Distinct: true})
	if err != nil {
		return nil, translate(err)
	}
	rows, err := rowsOf(res)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if c, ok := row["child"].(string); ok {
			out[c] = struct{}{}
		}
	}
	return out, nil
}

// ChildNames lists the direct children of name in insertion order.
func (s *Service) ChildNames(ctx context.Context, name string) ([]string, error) {
	res, err := s.store.QueryWithPayload(ctx, TableChildren, storage.Query{
		Return: []string{"child"},
		Where:  []storage.Condition{storage.Where("parent", name)},
		Sort:   &storage.Sort{Column: "id"},
	})
	if err != nil {
		return nil, translate(err)
	}
	rows, err := rowsOf(res)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if c, ok := row["child"].(string); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Children describes the direct children of name.
func (s *Service) Children(ctx context.Context, name string) ([]CategoryInfo, error) {
	names, err := s.ChildNames(ctx, name)
	if err != nil || len(names) == 0 {
		return []CategoryInfo{}, err
	}
	res, err := s.store.QueryWithPayload(ctx, TableConfiguration, storage.Query{
		Return: []string{"key", "description", "display_name"},
		Where:  []storage.Condition{{Column: "key", Op: storage.OpIn, Value: names}},
	})
	if err != nil {
		return nil, translate(err)
	}
	rows, err := rowsOf(res)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]CategoryInfo, len(rows))
	for _, row := range rows {
		info := infoOf(row)
		byKey[info.Key] = info
	}
	out := make([]CategoryInfo, 0, len(names))
	for _, n := range names {
		if info, ok := byKey[n]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// Descendants lists every category reachable below name, depth first.
// Cycles are cut.
func (s *Service) Descendants(ctx context.Context, name string) ([]string, error) {
	visited := map[string]struct{}{name: {}}
	var out []string
	var walk func(string) error
	walk = func(node string) error {
		kids, err := s.ChildNames(ctx, node)
		if err != nil {
			return err
		}
		for _, kid := range kids {
			if _, seen := visited[kid]; seen {
				continue
			}
			visited[kid] = struct{}{}
			out = append(out, kid)
			if err := walk(kid); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(name); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert stores a new category.
func (s *Service) Insert(ctx context.Context, name, description string, value schema.Items, displayName string) error {
	if displayName == "" {
		displayName = name
	}
	if _, err := s.store.Insert(ctx, TableConfiguration, storage.Row{
		"key":          name,
		"description":  description,
		"value":        value,
		"display_name": displayName,
	}); err != nil {
		return translate(err)
	}
	s.metrics.IncCategoryWrite("create")
	s.auditInfo(ctx, audit.CodeCategoryAdded, map[string]any{"name": name, "category": value})
	s.cache.Update(name, description, value, displayName)
	return nil
}

// Update replaces value, description and display name of name, then
// re-reads the row so the cache holds what storage kept.
func (s *Service) Update(ctx context.Context, name, description string, value, previous schema.Items, displayName string) error {
	values := map[string]any{"value": value, "description": description}
	if displayName != "" {
		values["display_name"] = displayName
	}
	if err := s.patch(ctx, name, storage.Patch{Values: values}); err != nil {
		return err
	}
	s.metrics.IncCategoryWrite("update")
	s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{
		"category": name,
		"items":    itemsDiff(previous, value),
	})
	return s.refresh(ctx, name)
}

// UpdateItemValue patches the value entry of one item in place.
func (s *Service) UpdateItemValue(ctx context.Context, name, item, newValue, oldValue string) error {
	if err := s.patch(ctx, name, storage.Patch{JSONProperties: []storage.JSONProperty{{
		Column: "value", Path: []string{item, schema.AttrValue}, Value: newValue,
	}}}); err != nil {
		return err
	}
	s.metrics.IncCategoryWrite("update_item")
	s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{
		"category": name,
		"item":     item,
		"oldValue": oldValue,
		"newValue": newValue,
	})
	return s.refresh(ctx, name)
}

// UpdateItemOptional patches an optional attribute of one item in place.
func (s *Service) UpdateItemOptional(ctx context.Context, name, item, attr string, newValue any) error {
	if err := s.patch(ctx, name, storage.Patch{JSONProperties: []storage.JSONProperty{{
		Column: "value", Path: []string{item, attr}, Value: newValue,
	}}}); err != nil {
		return err
	}
	s.metrics.IncCategoryWrite("update_optional")
	s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{
		"category": name,
		"item":     item,
		"optional": attr,
		"newValue": newValue,
	})
	return s.refresh(ctx, name)
}

// UpdateItemsBulk patches the values of several items in one call. Items
// whose value is unchanged are skipped; when nothing changed no write is
// made and false is returned.
func (s *Service) UpdateItemsBulk(ctx context.Context, name string, current schema.Items, values map[string]string) (bool, error) {
	names := make([]string, 0, len(values))
	for item := range values {
		names = append(names, item)
	}
	sort.Strings(names)

	props := make([]storage.JSONProperty, 0, len(values))
	diff := make(map[string]any, len(values))
	for _, item := range names {
		old := current[item].Value
		if old == values[item] {
			continue
		}
		props = append(props, storage.JSONProperty{Column: "value", Path: []string{item, schema.AttrValue}, Value: values[item]})
		diff[item] = map[string]any{"oldValue": old, "newValue": values[item]}
	}
	if len(props) == 0 {
		return false, nil
	}
	if err := s.patch(ctx, name, storage.Patch{JSONProperties: props}); err != nil {
		return false, err
	}
	s.metrics.IncCategoryWrite("update_bulk")
	s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{"category": name, "items": diff})
	return true, s.refresh(ctx, name)
}

// itemsDiff lists the items that differ between previous and next. Added
// items carry only newValue, removed items only oldValue.
func itemsDiff(previous, next schema.Items) map[string]any {
	diff := make(map[string]any)
	for name, item := range next {
		old, ok := previous[name]
		if !ok {
			diff[name] = map[string]any{"newValue": item.Map()}
			continue
		}
		if same, err := SameItems(schema.Items{name: old}, schema.Items{name: item}); err == nil && same {
			continue
		}
		diff[name] = map[string]any{"oldValue": old.Map(), "newValue": item.Map()}
	}
	for name, item := range previous {
		if _, ok := next[name]; !ok {
			diff[name] = map[string]any{"oldValue": item.Map()}
		}
	}
	return diff
}

func (s *Service) patch(ctx context.Context, name string, p storage.Patch) error {
	p.Where = []storage.Condition{storage.Where("key", name)}
	if _, err := s.store.Update(ctx, TableConfiguration, storage.UpdatePayload{Updates: []storage.Patch{p}}); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Service) refresh(ctx context.Context, name string) error {
	cat, err := s.Read(ctx, name)
	if err != nil {
		return err
	}
	if cat == nil {
		s.cache.Remove(name)
	}
	return nil
}

// InsertChild adds the edge parent -> child.
func (s *Service) InsertChild(ctx context.Context, parent, child string) error {
	if _, err := s.store.Insert(ctx, TableChildren, storage.Row{"parent": parent, "child": child}); err != nil {
		return translate(err)
	}
	s.metrics.IncCategoryWrite("insert_child")
	s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{"category": parent, "childAdded": child})
	return nil
}

// DeleteChild removes the edge parent -> child and reports how many rows
// went away.
func (s *Service) DeleteChild(ctx context.Context, parent, child string) (int, error) {
	resp, err := s.store.Delete(ctx, TableChildren, storage.Filter{Where: []storage.Condition{
		storage.Where("parent", parent),
		storage.Where("child", child),
	}})
	if err != nil {
		return 0, translate(err)
	}
	if resp.Rows > 0 {
		s.metrics.IncCategoryWrite("delete_child")
		s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{"category": parent, "childDeleted": child})
	}
	return resp.Rows, nil
}

// DeleteChildren removes every edge whose parent is parent.
func (s *Service) DeleteChildren(ctx context.Context, parent string) (int, error) {
	resp, err := s.store.Delete(ctx, TableChildren, storage.Filter{Where: []storage.Condition{storage.Where("parent", parent)}})
	if err != nil {
		return 0, translate(err)
	}
	if resp.Rows > 0 {
		s.metrics.IncCategoryWrite("delete_children")
		s.auditInfo(ctx, audit.CodeCategoryChanged, map[string]any{"category": parent, "childrenDeleted": resp.Rows})
	}
	return resp.Rows, nil
}

// DeleteRecursive deletes name and everything below it, children before
// parents. Nothing is deleted when reserved matches name or any
// descendant. It returns the deleted categories in deletion order.
func (s *Service) DeleteRecursive(ctx context.Context, name string, reserved func(string) bool) ([]string, error) {
	descendants, err := s.Descendants(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, n := range append([]string{name}, descendants...) {
		if reserved != nil && reserved(n) {
			return nil, configerr.Valuef("reserved category %s cannot be deleted", n)
		}
	}

	var deleted []string
	visited := map[string]struct{}{}
	var remove func(string) error
	remove = func(node string) error {
		visited[node] = struct{}{}
		kids, err := s.ChildNames(ctx, node)
		if err != nil {
			return err
		}
		for _, kid := range kids {
			if _, seen := visited[kid]; seen {
				continue
			}
			if err := remove(kid); err != nil {
				return err
			}
		}
		if err := s.deleteCategory(ctx, node); err != nil {
			return err
		}
		deleted = append(deleted, node)
		return nil
	}
	if err := remove(name); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (s *Service) deleteCategory(ctx context.Context, name string) error {
	steps := []struct {
		table string
		where []storage.Condition
	}{
		{acl.Table, []storage.Condition{storage.Where("entity_name", name)}},
		{TableChildren, []storage.Condition{storage.Where("child", name)}},
		{TableChildren, []storage.Condition{storage.Where("parent", name)}},
		{TableConfiguration, []storage.Condition{storage.Where("key", name)}},
	}
	for _, step := range steps {
		if _, err := s.store.Delete(ctx, step.table, storage.Filter{Where: step.where}); err != nil {
			return translate(err)
		}
	}
	s.cache.Remove(name)
	s.metrics.IncCategoryWrite("delete")
	s.auditInfo(ctx, audit.CodeCategoryDeleted, map[string]any{"categoryDeleted": name})
	return nil
}

func (s *Service) auditInfo(ctx context.Context, code string, details map[string]any) {
	if err := s.audit.Information(ctx, code, details); err != nil {
		logging.Warn(component, "audit record failed", "code", code, "error", err)
	}
}

// translate maps a storage collaborator failure to a value error carrying
// its payload. Other errors pass through.
func translate(err error) error {
	var serr *storage.Error
	if errors.As(err, &serr) {
		return configerr.FromStorage(serr.Map(), err)
	}
	return err
}

// rowsOf returns the rows of res. A response without rows is a value error
// when the store explained itself, otherwise a key error.
func rowsOf(res *storage.Result) ([]storage.Row, error) {
	if res == nil {
		return nil, configerr.Keyf("rows")
	}
	if res.Rows == nil {
		if res.Message != "" {
			return nil, configerr.Valuef("%s", res.Message)
		}
		return nil, configerr.Keyf("rows")
	}
	return res.Rows, nil
}

func headerOf(row storage.Row) *Category {
	cat := &Category{}
	cat.Name, _ = row["key"].(string)
	cat.Description, _ = row["description"].(string)
	cat.DisplayName, _ = row["display_name"].(string)
	if cat.DisplayName == "" {
		cat.DisplayName = cat.Name
	}
	return cat
}

func decodeCategory(row storage.Row) (*Category, error) {
	cat := headerOf(row)
	cat.Raw = row["value"]
	cat.Value = schema.Items{}
	if cat.Raw != nil {
		if err := remarshal(cat.Raw, &cat.Value); err != nil {
			return nil, configerr.Valuef("decode category %s: %v", cat.Name, err)
		}
	}
	return cat, nil
}

func infoOf(row storage.Row) CategoryInfo {
	info := CategoryInfo{}
	info.Key, _ = row["key"].(string)
	info.Description, _ = row["description"].(string)
	info.DisplayName, _ = row["display_name"].(string)
	if info.DisplayName == "" {
		info.DisplayName = info.Key
	}
	return info
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return json.Unmarshal(data, out)
}
