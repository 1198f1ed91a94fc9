package schema

import (
	"strconv"
	"strings"

	"github.com/cordum/edgeconf/core/configerr"
	json "github.com/goccy/go-json"
)

// normalizeList parses a list payload: a JSON array, or an object holding
// the array under listName. Elements must match the items type and be
// unique; object elements are de-duplicated instead.
func normalizeList(item Item, v, where string) (string, error) {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &doc); err != nil {
		return v, configerr.Typef("%s: malformed list payload: %v", where, err)
	}
	var elems []any
	switch d := doc.(type) {
	case []any:
		elems = d
	case map[string]any:
		if item.ListName == "" {
			return v, configerr.Typef("%s: list payload must be a JSON array", where)
		}
		inner, ok := d[item.ListName].([]any)
		if !ok {
			return v, configerr.Valuef("%s: list payload must hold a %s array", where, item.ListName)
		}
		elems = inner
	default:
		return v, configerr.Typef("%s: list payload must be a JSON array", where)
	}

	seen := make(map[string]struct{}, len(elems))
	out := make([]any, 0, len(elems))
	deduped := false
	for _, e := range elems {
		norm, err := checkElem(item, e, where)
		if err != nil {
			return v, err
		}
		key, _ := json.Marshal(norm)
		if _, dup := seen[string(key)]; dup {
			if item.Items != ElemObject {
				return v, configerr.Valuef("%s: list payload has duplicate elements", where)
			}
			deduped = true
			continue
		}
		seen[string(key)] = struct{}{}
		out = append(out, norm)
	}
	if err := checkListSize(item, len(out), where); err != nil {
		return v, err
	}

	switch {
	case item.ListName != "":
		encoded, err := json.Marshal(map[string]any{item.ListName: out})
		if err != nil {
			return v, configerr.Valuef("%s: %v", where, err)
		}
		return string(encoded), nil
	case deduped:
		encoded, err := json.Marshal(out)
		if err != nil {
			return v, configerr.Valuef("%s: %v", where, err)
		}
		return string(encoded), nil
	}
	return v, nil
}

// normalizeKVList parses a kvlist payload into its canonical JSON object.
// Repeated keys collapse to the last occurrence.
func normalizeKVList(item Item, v, where string) (string, error) {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &doc); err != nil {
		return v, configerr.Typef("%s: malformed kvlist payload: %v", where, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return v, configerr.Typef("%s: kvlist payload must be a JSON object", where)
	}
	if item.ListName != "" {
		if inner, wrapped := obj[item.ListName].(map[string]any); wrapped && len(obj) == 1 {
			obj = inner
		}
	}
	for key, e := range obj {
		norm, err := checkElem(item, e, where)
		if err != nil {
			return v, err
		}
		obj[key] = norm
	}
	if err := checkListSize(item, len(obj), where); err != nil {
		return v, err
	}
	var out any = obj
	if item.ListName != "" {
		out = map[string]any{item.ListName: obj}
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return v, configerr.Valuef("%s: %v", where, err)
	}
	return string(encoded), nil
}

func checkListSize(item Item, n int, where string) error {
	if item.ListSize == "" {
		return nil
	}
	limit, err := strconv.Atoi(strings.TrimSpace(item.ListSize))
	if err != nil {
		return configerr.Valuef("%s: listSize must be an integer", where)
	}
	if limit > 0 && n > limit {
		return configerr.Valuef("%s: %d elements exceed listSize %d", where, n, limit)
	}
	return nil
}

func checkElem(item Item, e any, where string) (any, error) {
	switch item.Items {
	case ElemString:
		if _, ok := e.(string); !ok {
			return nil, configerr.Valuef("%s: elements must be strings, got %T", where, e)
		}
	case ElemInteger:
		switch n := e.(type) {
		case string:
			if _, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err != nil {
				return nil, configerr.Valuef("%s: element %q is not an integer", where, n)
			}
		case float64:
			if n != float64(int64(n)) {
				return nil, configerr.Valuef("%s: element %v is not an integer", where, n)
			}
		default:
			return nil, configerr.Valuef("%s: elements must be integers, got %T", where, e)
		}
	case ElemFloat:
		switch n := e.(type) {
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
				return nil, configerr.Valuef("%s: element %q is not a float", where, n)
			}
		case float64:
		default:
			return nil, configerr.Valuef("%s: elements must be floats, got %T", where, e)
		}
	case ElemEnumeration:
		s, ok := e.(string)
		if !ok || !contains(item.Options, s) {
			return nil, configerr.Valuef("%s: element %v is not one of the options %v", where, e, item.Options)
		}
	case ElemObject:
		if _, ok := e.(map[string]any); !ok {
			return nil, configerr.Valuef("%s: elements must be objects, got %T", where, e)
		}
	}
	return e, nil
}
