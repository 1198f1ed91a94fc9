package configsvc

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/cordum/edgeconf/core/configmgr/schema"
	json "github.com/goccy/go-json"
)

// SameItems reports whether a and b serialize to identical canonical JSON.
func SameItems(a, b schema.Items) (bool, error) {
	left, err := canonicalJSON(itemsMap(a))
	if err != nil {
		return false, err
	}
	right, err := canonicalJSON(itemsMap(b))
	if err != nil {
		return false, err
	}
	return bytes.Equal(left, right), nil
}

func itemsMap(items schema.Items) map[string]any {
	if items == nil {
		return nil
	}
	out := make(map[string]any, len(items))
	for name, item := range items {
		out[name] = item.Map()
	}
	return out
}

func canonicalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case json.RawMessage:
		buf.Write(v)
		return nil
	case map[string]any:
		return appendCanonicalMap(buf, v)
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return appendCanonicalMap(buf, out)
	case []any:
		return appendCanonicalSlice(buf, v)
	case []string:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = val
		}
		return appendCanonicalSlice(buf, out)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode canonical json: %w", err)
		}
		buf.Write(encoded)
		return nil
	}
}

func appendCanonicalMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, _ := json.Marshal(k)
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := appendCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func appendCanonicalSlice(buf *bytes.Buffer, items []any) error {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := appendCanonical(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
