// Package schema validates and merges configuration category definitions.
//
// A category value is a map of item name to item definition. Validate turns
// the loosely typed form received from callers or storage into Items,
// enforcing the per-type grammar; Merge reconciles a new definition with the
// stored one. Both are pure.
package schema

import (
	"sort"
)

// Item types.
const (
	TypeBoolean     = "boolean"
	TypeInteger     = "integer"
	TypeFloat       = "float"
	TypeString      = "string"
	TypeIPv4        = "IPv4"
	TypeIPv6        = "IPv6"
	TypeX509        = "X509 certificate"
	TypePassword    = "password"
	TypeJSON        = "JSON"
	TypeURL         = "URL"
	TypeEnumeration = "enumeration"
	TypeScript      = "script"
	TypeCode        = "code"
	TypeNorthTask   = "northTask"
	TypeACL         = "ACL"
	TypeBucket      = "bucket"
	TypeList        = "list"
	TypeKVList      = "kvlist"
)

// Element types accepted by the items attribute of list and kvlist.
const (
	ElemString      = "string"
	ElemInteger     = "integer"
	ElemFloat       = "float"
	ElemObject      = "object"
	ElemEnumeration = "enumeration"
)

// Entry names.
const (
	AttrDescription    = "description"
	AttrType           = "type"
	AttrDefault        = "default"
	AttrValue          = "value"
	AttrReadonly       = "readonly"
	AttrOrder          = "order"
	AttrLength         = "length"
	AttrMaximum        = "maximum"
	AttrMinimum        = "minimum"
	AttrRule           = "rule"
	AttrDeprecated     = "deprecated"
	AttrDisplayName    = "displayName"
	AttrValidity       = "validity"
	AttrMandatory      = "mandatory"
	AttrGroup          = "group"
	AttrListSize       = "listSize"
	AttrListName       = "listName"
	AttrPermissions    = "permissions"
	AttrOptions        = "options"
	AttrProperties     = "properties"
	AttrItems          = "items"
	AttrKeyName        = "keyName"
	AttrKeyDescription = "keyDescription"
	AttrFile           = "file"
)

var validTypes = map[string]struct{}{
	TypeBoolean: {}, TypeInteger: {}, TypeFloat: {}, TypeString: {}, TypeIPv4: {},
	TypeIPv6: {}, TypeX509: {}, TypePassword: {}, TypeJSON: {}, TypeURL: {},
	TypeEnumeration: {}, TypeScript: {}, TypeCode: {}, TypeNorthTask: {}, TypeACL: {},
	TypeBucket: {}, TypeList: {}, TypeKVList: {},
}

var validElems = map[string]struct{}{
	ElemString: {}, ElemInteger: {}, ElemFloat: {}, ElemObject: {}, ElemEnumeration: {},
}

// IsValidType reports whether t is a recognised item type.
func IsValidType(t string) bool {
	_, ok := validTypes[t]
	return ok
}

// Item is one configurable field of a category. Default and Value are always
// strings; a JSON object default is held as its JSON text.
type Item struct {
	Description    string         `json:"description"`
	Type           string         `json:"type"`
	Default        string         `json:"default"`
	Value          string         `json:"value"`
	DisplayName    string         `json:"displayName,omitempty"`
	Order          string         `json:"order,omitempty"`
	Readonly       string         `json:"readonly,omitempty"`
	Length         string         `json:"length,omitempty"`
	Minimum        string         `json:"minimum,omitempty"`
	Maximum        string         `json:"maximum,omitempty"`
	Rule           string         `json:"rule,omitempty"`
	Deprecated     string         `json:"deprecated,omitempty"`
	Validity       string         `json:"validity,omitempty"`
	Mandatory      string         `json:"mandatory,omitempty"`
	Group          string         `json:"group,omitempty"`
	ListSize       string         `json:"listSize,omitempty"`
	ListName       string         `json:"listName,omitempty"`
	Permissions    []string       `json:"permissions,omitempty"`
	Options        []string       `json:"options,omitempty"`
	Items          string         `json:"items,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	KeyName        string         `json:"keyName,omitempty"`
	KeyDescription string         `json:"keyDescription,omitempty"`
	File           string         `json:"file,omitempty"`
}

// Items maps item name to definition.
type Items map[string]Item

// Names returns the item names in sorted order.
func (it Items) Names() []string {
	names := make([]string, 0, len(it))
	for name := range it {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of it; slices and maps of each item are copied too.
func (it Items) Clone() Items {
	if it == nil {
		return nil
	}
	out := make(Items, len(it))
	for name, item := range it {
		out[name] = item.Clone()
	}
	return out
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	if i.Permissions != nil {
		i.Permissions = append([]string(nil), i.Permissions...)
	}
	if i.Options != nil {
		i.Options = append([]string(nil), i.Options...)
	}
	if i.Properties != nil {
		i.Properties = cloneMap(i.Properties)
	}
	return i
}

// IsTrue reports whether a boolean attribute holds "true".
func IsTrue(attr string) bool {
	return attr == "true"
}

// Optional returns the string form of an optional attribute and whether the
// attribute is set.
func (i Item) Optional(attr string) (string, bool) {
	var v string
	switch attr {
	case AttrReadonly:
		v = i.Readonly
	case AttrOrder:
		v = i.Order
	case AttrLength:
		v = i.Length
	case AttrMinimum:
		v = i.Minimum
	case AttrMaximum:
		v = i.Maximum
	case AttrRule:
		v = i.Rule
	case AttrDeprecated:
		v = i.Deprecated
	case AttrDisplayName:
		v = i.DisplayName
	case AttrValidity:
		v = i.Validity
	case AttrMandatory:
		v = i.Mandatory
	case AttrGroup:
		v = i.Group
	case AttrListSize:
		v = i.ListSize
	case AttrListName:
		v = i.ListName
	case AttrItems:
		v = i.Items
	case AttrKeyName:
		v = i.KeyName
	case AttrKeyDescription:
		v = i.KeyDescription
	default:
		return "", false
	}
	return v, v != ""
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
