package schema

import "sort"

// DeprecatedItem records an item dropped from a merge because the new
// definition marks it deprecated.
type DeprecatedItem struct {
	Name string
	Old  *Item
	New  Item
}

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Items      Items
	Deprecated []DeprecatedItem
}

// Merge reconciles a new category definition with the stored one. Items
// keeping their type keep the stored value; a JSON item redefined as a list
// with listName keeps the old JSON text. Deprecated items are dropped and
// reported. With keepOriginal, items only present in stored are carried
// over. Neither input is modified.
func Merge(newItems, stored Items, keepOriginal bool) MergeResult {
	out := make(Items, len(newItems))
	var deprecated []DeprecatedItem

	for name, n := range newItems {
		item := n.Clone()
		old, had := stored[name]
		if IsTrue(item.Deprecated) {
			d := DeprecatedItem{Name: name, New: item}
			if had {
				prev := old.Clone()
				d.Old = &prev
			}
			deprecated = append(deprecated, d)
			continue
		}
		if had {
			switch {
			case old.Type == item.Type:
				item.Value = old.Value
			case item.Type == TypeList && old.Type == TypeJSON && item.ListName != "":
				item.Value = old.Value
			}
		}
		out[name] = item
	}

	if keepOriginal {
		for name, old := range stored {
			if _, present := newItems[name]; !present {
				out[name] = old.Clone()
			}
		}
	}

	sort.Slice(deprecated, func(i, j int) bool { return deprecated[i].Name < deprecated[j].Name })
	return MergeResult{Items: out, Deprecated: deprecated}
}
