package schema

import (
	"errors"
	"testing"

	"github.com/cordum/edgeconf/core/configerr"
	"github.com/stretchr/testify/require"
)

func item(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func TestValidatePopulatesValue(t *testing.T) {
	raw := map[string]any{
		"p": item("type", "boolean", "description", "d", "default", "true"),
	}
	items, err := Validate("T1", raw, true)
	require.NoError(t, err)
	require.Equal(t, Item{Type: "boolean", Description: "d", Default: "true", Value: "true"}, items["p"])
}

func TestValidateRoundTrip(t *testing.T) {
	raw := map[string]any{
		"port":  item("type", "integer", "description", "port", "default", "8081", "minimum", "1", "maximum", "65535", "order", "1"),
		"mode":  item("type", "enumeration", "description", "mode", "default", "a", "options", []any{"a", "b"}, "readonly", true),
		"doc":   item("type", "JSON", "description", "doc", "default", map[string]any{"b": 1.0, "a": "x"}),
		"hosts": item("type", "list", "description", "hosts", "default", `["h1","h2"]`, "items", "string", "listSize", "3"),
		"kv":    item("type", "kvlist", "description", "kv", "default", `{"a":"1","b":"2"}`, "items", "integer"),
		"rows":  item("type", "list", "description", "rows", "default", `["1"]`, "items", "string", "listName", "rows"),
		"addr":  item("type", "IPv4", "description", "addr", "default", "10.0.0.1", "permissions", []any{"user"}),
		"url":   item("type", "URL", "description", "url", "default", "https://example.com/x"),
	}
	validated, err := Validate("cat", raw, true)
	require.NoError(t, err)
	for name, it := range validated {
		require.Equal(t, it.Default, it.Value, name)
	}
	require.Equal(t, "true", validated["mode"].Readonly)
	require.Equal(t, `{"a":"x","b":1}`, validated["doc"].Default)
	require.Equal(t, `{"rows":["1"]}`, validated["rows"].Default)

	again, err := Validate("cat", validated, false)
	require.NoError(t, err)
	require.Equal(t, validated, again)
}

func TestValidateShapeErrors(t *testing.T) {
	_, err := Validate("c", "not a map", true)
	require.True(t, errors.Is(err, configerr.ErrType))

	_, err = Validate("c", map[string]any{"p": "x"}, true)
	require.True(t, errors.Is(err, configerr.ErrType))

	_, err = Validate("c", map[string]any{"p": item("type", "string", "description", 5, "default", "x")}, true)
	require.True(t, errors.Is(err, configerr.ErrType))

	_, err = Validate("c", map[string]any{"p": item("type", "string", "description", "d", "default", "x", "order", 4)}, true)
	require.True(t, errors.Is(err, configerr.ErrType))
}

func TestValidateValueErrors(t *testing.T) {
	cases := map[string]map[string]any{
		"bad type":          item("type", "strong", "description", "d", "default", "x"),
		"missing default":   item("type", "string", "description", "d"),
		"missing type":      item("description", "d", "default", "x"),
		"explicit value":    item("type", "string", "description", "d", "default", "x", "value", "y"),
		"bad integer":       item("type", "integer", "description", "d", "default", "x"),
		"bad float":         item("type", "float", "description", "d", "default", "1.2.3"),
		"bad boolean":       item("type", "boolean", "description", "d", "default", "yes"),
		"bad ipv4":          item("type", "IPv4", "description", "d", "default", "::1"),
		"bad ipv6":          item("type", "IPv6", "description", "d", "default", "10.0.0.1"),
		"bad url":           item("type", "URL", "description", "d", "default", "example.com"),
		"bad json":          item("type", "JSON", "description", "d", "default", "{"),
		"empty options":     item("type", "enumeration", "description", "d", "default", "a", "options", []any{}),
		"empty properties":  item("type", "bucket", "description", "d", "default", "x", "properties", map[string]any{}),
		"bad items":         item("type", "list", "description", "d", "default", "[]", "items", "bool"),
		"list size":         item("type", "list", "description", "d", "default", `["a","b"]`, "items", "string", "listSize", "1"),
		"element mismatch":  item("type", "list", "description", "d", "default", `["a", 1]`, "items", "string"),
		"object properties": item("type", "list", "description", "d", "default", `[]`, "items", "object", "properties", map[string]any{"w": map[string]any{"type": "integer"}}),
		"bad readonly":      item("type", "string", "description", "d", "default", "x", "readonly", "maybe"),
	}
	for name, def := range cases {
		_, err := Validate("c", map[string]any{"p": def}, true)
		require.Truef(t, errors.Is(err, configerr.ErrValue), "%s: got %v", name, err)
	}
}

func TestValidateMissingCompanions(t *testing.T) {
	cases := map[string]map[string]any{
		"enumeration": item("type", "enumeration", "description", "d", "default", "a"),
		"bucket":      item("type", "bucket", "description", "d", "default", "x"),
		"bucket key":  item("type", "bucket", "description", "d", "default", "x", "properties", map[string]any{"other": "v"}),
		"list":        item("type", "list", "description", "d", "default", "[]"),
		"kvlist":      item("type", "kvlist", "description", "d", "default", "{}"),
	}
	for name, def := range cases {
		_, err := Validate("c", map[string]any{"p": def}, true)
		require.Truef(t, errors.Is(err, configerr.ErrKey), "%s: got %v", name, err)
	}
}

func TestEnumerationMembership(t *testing.T) {
	def := item("type", "enumeration", "description", "d", "default", "c", "options", []any{"a", "b"})
	_, err := Validate("c", map[string]any{"p": def}, true)
	require.True(t, errors.Is(err, configerr.ErrValue))

	def["default"] = "b"
	items, err := Validate("c", map[string]any{"p": def}, true)
	require.NoError(t, err)
	require.Equal(t, "b", items["p"].Value)
}

func TestListUniqueness(t *testing.T) {
	def := item("type", "list", "description", "d", "default", `["1","1"]`, "items", "string")
	_, err := Validate("c", map[string]any{"p": def}, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")

	def["default"] = `["1","2"]`
	_, err = Validate("c", map[string]any{"p": def}, true)
	require.NoError(t, err)
}

func TestListMalformedPayloadIsTypeError(t *testing.T) {
	def := item("type", "list", "description", "d", "default", `[1,`, "items", "integer")
	_, err := Validate("c", map[string]any{"p": def}, true)
	require.True(t, errors.Is(err, configerr.ErrType))
}

func TestObjectListDeduplicates(t *testing.T) {
	props := map[string]any{"w": map[string]any{"type": "integer", "description": "w", "default": "1"}}
	def := item("type", "list", "description", "d", "default", `[{"w":"1"},{"w":"1"}]`, "items", "object", "properties", props)
	items, err := Validate("c", map[string]any{"p": def}, true)
	require.NoError(t, err)
	require.Equal(t, `[{"w":"1"}]`, items["p"].Default)
}

func TestKVListNormalises(t *testing.T) {
	def := item("type", "kvlist", "description", "d", "default", `{"b":"2","a":"1","a":"3"}`, "items", "string")
	items, err := Validate("c", map[string]any{"p": def}, true)
	require.NoError(t, err)
	require.Equal(t, `{"a":"3","b":"2"}`, items["p"].Default)
}

func TestMandatoryEmptyDefault(t *testing.T) {
	for _, typ := range []string{"string", "password", "script"} {
		def := item("type", typ, "description", "d", "default", "  ", "mandatory", "true")
		_, err := Validate("c", map[string]any{"p": def}, true)
		require.Truef(t, errors.Is(err, configerr.ErrValue), "%s: got %v", typ, err)
	}
}

func TestUnknownEntriesDiscarded(t *testing.T) {
	def := item("type", "string", "description", "d", "default", "x", "colour", "blue")
	items, err := Validate("c", map[string]any{"p": def}, true)
	require.NoError(t, err)
	require.NotContains(t, items["p"].Map(), "colour")
}

func TestValidateRequiresValueFromStorage(t *testing.T) {
	def := item("type", "string", "description", "d", "default", "x")
	_, err := Validate("c", map[string]any{"p": def}, false)
	require.True(t, errors.Is(err, configerr.ErrValue))

	def["value"] = "y"
	items, err := Validate("c", map[string]any{"p": def}, false)
	require.NoError(t, err)
	require.Equal(t, "y", items["p"].Value)
}

func TestCheckConstraints(t *testing.T) {
	it := Item{Type: TypeInteger, Minimum: "1", Maximum: "10"}
	require.NoError(t, CheckConstraints(it, "5"))
	require.Error(t, CheckConstraints(it, "0"))
	require.Error(t, CheckConstraints(it, "11"))

	s := Item{Type: TypeString, Length: "3"}
	require.NoError(t, CheckConstraints(s, "abc"))
	require.Error(t, CheckConstraints(s, "abcd"))
}

func TestWithOptional(t *testing.T) {
	it := Item{Type: TypeInteger, Description: "d", Default: "5", Value: "5", Maximum: "10"}

	updated, err := WithOptional(it, AttrMinimum, "2")
	require.NoError(t, err)
	require.Equal(t, "2", updated.Minimum)
	require.Empty(t, it.Minimum)

	_, err = WithOptional(it, AttrMinimum, "20")
	require.True(t, errors.Is(err, configerr.ErrValue))

	_, err = WithOptional(it, AttrProperties, "{}")
	require.True(t, errors.Is(err, configerr.ErrType))

	_, err = WithOptional(it, "bogus", "x")
	require.True(t, errors.Is(err, configerr.ErrKey))

	updated, err = WithOptional(it, AttrReadonly, "TRUE")
	require.NoError(t, err)
	require.Equal(t, "true", updated.Readonly)
}

func TestNormalizeValueWrapsListName(t *testing.T) {
	it := Item{Type: TypeList, Items: ElemString, ListName: "hosts"}
	v, err := NormalizeValue(it, `["a","b"]`)
	require.NoError(t, err)
	require.Equal(t, `{"hosts":["a","b"]}`, v)
}
