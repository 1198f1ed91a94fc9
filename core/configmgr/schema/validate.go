package schema

import (
	"fmt"
	"net/netip"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cordum/edgeconf/core/configerr"
	"github.com/cordum/edgeconf/core/infra/logging"
	json "github.com/goccy/go-json"
)

const component = "schema"

// Validate checks a category value against the item grammar and returns the
// normalised items. With populateFromDefault every item's value is set from
// its default and an explicit value is rejected; without it a value is
// required.
func Validate(category string, raw any, populateFromDefault bool) (Items, error) {
	entries, ok := raw.(map[string]any)
	if !ok {
		if items, isItems := raw.(Items); isItems {
			entries = items.toMap()
		} else {
			return nil, configerr.Typef("category %s value must be a map, got %T", category, raw)
		}
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Items, len(entries))
	for _, name := range names {
		def, ok := entries[name].(map[string]any)
		if !ok {
			return nil, configerr.Typef("category %s item %s must be a map, got %T", category, name, entries[name])
		}
		item, err := validateItem(category, name, def, populateFromDefault)
		if err != nil {
			return nil, err
		}
		out[name] = item
	}
	return out, nil
}

func validateItem(category, name string, def map[string]any, populateFromDefault bool) (Item, error) {
	var item Item
	where := fmt.Sprintf("category %s item %s", category, name)

	typ, err := requiredString(def, AttrType, where)
	if err != nil {
		return item, err
	}
	if !IsValidType(typ) {
		return item, configerr.Valuef("%s: invalid entry value for type: %s", where, typ)
	}
	item.Type = typ

	if item.Description, err = requiredString(def, AttrDescription, where); err != nil {
		return item, err
	}
	if item.Default, err = requiredPayload(def, AttrDefault, typ, where); err != nil {
		return item, err
	}

	_, hasValue := def[AttrValue]
	switch {
	case populateFromDefault && hasValue:
		return item, configerr.Valuef("%s: value entry is not allowed when populating from default", where)
	case populateFromDefault:
	default:
		if item.Value, err = requiredPayload(def, AttrValue, typ, where); err != nil {
			return item, err
		}
	}

	for attr, raw := range def {
		switch attr {
		case AttrType, AttrDescription, AttrDefault, AttrValue:
			continue
		}
		if err := setOptional(&item, attr, raw, where); err != nil {
			return item, err
		}
	}

	if err := checkCompanions(&item, where); err != nil {
		return item, err
	}
	if IsTrue(item.Mandatory) && strings.TrimSpace(item.Default) == "" {
		return item, configerr.Valuef("%s: a default value must be given for a mandatory item", where)
	}

	normalized, err := checkPayload(item, item.Default, where+" default")
	if err != nil {
		return item, err
	}
	item.Default = normalized
	if populateFromDefault {
		item.Value = item.Default
	} else if item.Value, err = checkPayload(item, item.Value, where+" value"); err != nil {
		return item, err
	}
	return item, nil
}

func requiredString(def map[string]any, attr, where string) (string, error) {
	raw, ok := def[attr]
	if !ok {
		return "", configerr.Valuef("%s: missing entry %s", where, attr)
	}
	s, ok := raw.(string)
	if !ok {
		return "", configerr.Typef("%s: entry %s must be a string, got %T", where, attr, raw)
	}
	return s, nil
}

// requiredPayload reads default or value; JSON items may carry an object.
func requiredPayload(def map[string]any, attr, typ, where string) (string, error) {
	raw, ok := def[attr]
	if !ok {
		return "", configerr.Valuef("%s: missing entry %s", where, attr)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]any:
		if typ != TypeJSON {
			return "", configerr.Typef("%s: entry %s must be a string for type %s", where, attr, typ)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", configerr.Valuef("%s: entry %s is not valid JSON: %v", where, attr, err)
		}
		return string(encoded), nil
	default:
		return "", configerr.Typef("%s: entry %s must be a string, got %T", where, attr, raw)
	}
}

func setOptional(item *Item, attr string, raw any, where string) error {
	switch attr {
	case AttrReadonly, AttrDeprecated, AttrMandatory:
		v, err := boolAttr(raw, attr, where)
		if err != nil {
			return err
		}
		switch attr {
		case AttrReadonly:
			item.Readonly = v
		case AttrDeprecated:
			item.Deprecated = v
		default:
			item.Mandatory = v
		}
	case AttrOrder, AttrLength, AttrListSize:
		s, err := stringAttr(raw, attr, where)
		if err != nil {
			return err
		}
		if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
			return configerr.Valuef("%s: entry %s must be an integer, got %q", where, attr, s)
		}
		switch attr {
		case AttrOrder:
			item.Order = s
		case AttrLength:
			item.Length = s
		default:
			item.ListSize = s
		}
	case AttrMinimum, AttrMaximum:
		s, err := stringAttr(raw, attr, where)
		if err != nil {
			return err
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return configerr.Valuef("%s: entry %s must be numeric, got %q", where, attr, s)
		}
		if attr == AttrMinimum {
			item.Minimum = s
		} else {
			item.Maximum = s
		}
	case AttrRule, AttrDisplayName, AttrValidity, AttrGroup, AttrListName, AttrItems,
		AttrKeyName, AttrKeyDescription, AttrFile:
		s, err := stringAttr(raw, attr, where)
		if err != nil {
			return err
		}
		switch attr {
		case AttrRule:
			item.Rule = s
		case AttrDisplayName:
			item.DisplayName = s
		case AttrValidity:
			item.Validity = s
		case AttrGroup:
			item.Group = s
		case AttrListName:
			item.ListName = s
		case AttrItems:
			item.Items = s
		case AttrKeyName:
			item.KeyName = s
		case AttrKeyDescription:
			item.KeyDescription = s
		default:
			item.File = s
		}
	case AttrOptions:
		opts, err := stringList(raw, attr, where)
		if err != nil {
			return err
		}
		item.Options = opts
	case AttrPermissions:
		perms, err := stringList(raw, attr, where)
		if err != nil {
			return err
		}
		if len(perms) == 0 {
			return configerr.Valuef("%s: entry permissions must not be empty", where)
		}
		item.Permissions = perms
	case AttrProperties:
		props, ok := raw.(map[string]any)
		if !ok {
			return configerr.Typef("%s: entry properties must be a map, got %T", where, raw)
		}
		item.Properties = cloneMap(props)
	default:
		logging.Warn(component, "discarding unrecognised item entry", "where", where, "entry", attr)
	}
	return nil
}

func boolAttr(raw any, attr, where string) (string, error) {
	switch v := raw.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower != "true" && lower != "false" {
			return "", configerr.Valuef("%s: entry %s must be true or false, got %q", where, attr, v)
		}
		return lower, nil
	default:
		return "", configerr.Typef("%s: entry %s must be a boolean string, got %T", where, attr, raw)
	}
}

func stringAttr(raw any, attr, where string) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", configerr.Typef("%s: entry %s must be a string, got %T", where, attr, raw)
	}
	return s, nil
}

func stringList(raw any, attr, where string) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, configerr.Typef("%s: entry %s must hold strings, got %T", where, attr, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, configerr.Typef("%s: entry %s must be a list, got %T", where, attr, raw)
	}
}

// checkCompanions enforces the attributes a type requires.
func checkCompanions(item *Item, where string) error {
	switch item.Type {
	case TypeEnumeration:
		if item.Options == nil {
			return configerr.Keyf("%s: options required for enumeration type", where)
		}
		if len(item.Options) == 0 {
			return configerr.Valuef("%s: entry value for options must not be empty", where)
		}
	case TypeBucket:
		if item.Properties == nil {
			return configerr.Keyf("%s: properties required for bucket type", where)
		}
		if len(item.Properties) == 0 {
			return configerr.Valuef("%s: properties must not be empty for bucket type", where)
		}
		if _, ok := item.Properties["key"]; !ok {
			return configerr.Keyf("%s: key entry required in properties of bucket type", where)
		}
	case TypeList, TypeKVList:
		if item.Items == "" {
			return configerr.Keyf("%s: items required for %s type", where, item.Type)
		}
		if _, ok := validElems[item.Items]; !ok {
			return configerr.Valuef("%s: items entry value must be string, float, integer, object or enumeration; got %s", where, item.Items)
		}
		switch item.Items {
		case ElemEnumeration:
			if item.Options == nil {
				return configerr.Keyf("%s: options required for enumeration items", where)
			}
			if len(item.Options) == 0 {
				return configerr.Valuef("%s: entry value for options must not be empty", where)
			}
		case ElemObject:
			if item.Properties == nil {
				return configerr.Keyf("%s: properties required for object items", where)
			}
			if len(item.Properties) == 0 {
				return configerr.Valuef("%s: properties must not be empty for object items", where)
			}
			for prop, raw := range item.Properties {
				spec, ok := raw.(map[string]any)
				if !ok {
					return configerr.Typef("%s: property %s must be a map", where, prop)
				}
				for _, required := range []string{AttrType, AttrDescription, AttrDefault} {
					if _, ok := spec[required]; !ok {
						return configerr.Valuef("%s: property %s is missing %s", where, prop, required)
					}
				}
			}
		}
		if item.ListSize != "" {
			if n, _ := strconv.Atoi(strings.TrimSpace(item.ListSize)); n < 0 {
				return configerr.Valuef("%s: listSize must not be negative", where)
			}
		}
	}
	return nil
}

// CheckValue reports whether v is an acceptable value for item.
func CheckValue(item Item, v string) error {
	_, err := checkPayload(item, v, "item value")
	return err
}

// NormalizeValue validates v for item and returns the stored form: list
// payloads are wrapped in listName when set, kvlist payloads de-duplicated.
func NormalizeValue(item Item, v string) (string, error) {
	return checkPayload(item, v, "item value")
}

func checkPayload(item Item, v, where string) (string, error) {
	switch item.Type {
	case TypeBoolean:
		lower := strings.ToLower(v)
		if lower != "true" && lower != "false" {
			return v, configerr.Valuef("%s: unrecognized value for boolean: %q", where, v)
		}
	case TypeInteger:
		if _, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
			return v, configerr.Valuef("%s: unrecognized value for integer: %q", where, v)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return v, configerr.Valuef("%s: unrecognized value for float: %q", where, v)
		}
	case TypeIPv4, TypeIPv6:
		addr, err := netip.ParseAddr(strings.TrimSpace(v))
		if err != nil || (item.Type == TypeIPv4 && !addr.Is4()) || (item.Type == TypeIPv6 && !addr.Is6()) {
			return v, configerr.Valuef("%s: unrecognized value for %s: %q", where, item.Type, v)
		}
	case TypeJSON:
		var doc any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return v, configerr.Valuef("%s: unrecognized value for JSON: %v", where, err)
		}
	case TypeURL:
		u, err := url.Parse(strings.TrimSpace(v))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return v, configerr.Valuef("%s: unrecognized value for URL: %q", where, v)
		}
	case TypeEnumeration:
		if !contains(item.Options, v) {
			return v, configerr.Valuef("%s: %q is not one of the options %v", where, v, item.Options)
		}
	case TypeList:
		return normalizeList(item, v, where)
	case TypeKVList:
		return normalizeKVList(item, v, where)
	}
	return v, nil
}

// CheckConstraints applies minimum, maximum and length to v.
func CheckConstraints(item Item, v string) error {
	switch item.Type {
	case TypeInteger, TypeFloat:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return configerr.Valuef("unrecognized value for %s: %q", item.Type, v)
		}
		if item.Minimum != "" {
			if lo, err := strconv.ParseFloat(item.Minimum, 64); err == nil && n < lo {
				return configerr.Valuef("value %s is less than the minimum %s", v, item.Minimum)
			}
		}
		if item.Maximum != "" {
			if hi, err := strconv.ParseFloat(item.Maximum, 64); err == nil && n > hi {
				return configerr.Valuef("value %s is greater than the maximum %s", v, item.Maximum)
			}
		}
	case TypeString, TypePassword, TypeURL, TypeX509, TypeCode:
		if item.Length != "" {
			if limit, err := strconv.Atoi(item.Length); err == nil && len([]rune(v)) > limit {
				return configerr.Valuef("value exceeds the allowed length %d", limit)
			}
		}
	}
	return nil
}

// WithOptional returns a copy of item with optional attribute attr set to v.
// properties cannot be changed this way; minimum and maximum must stay
// ordered.
func WithOptional(item Item, attr, v string) (Item, error) {
	if attr == AttrProperties {
		return item, configerr.Typef("properties cannot be updated")
	}
	switch attr {
	case AttrOptions, AttrPermissions:
		var list []string
		if err := json.Unmarshal([]byte(v), &list); err != nil {
			return item, configerr.Typef("entry %s must be a JSON list of strings", attr)
		}
		if attr == AttrOptions {
			item.Options = list
		} else {
			item.Permissions = list
		}
		return item, nil
	}
	if !isOptionalName(attr) {
		return item, configerr.Keyf("%s is not a valid optional attribute", attr)
	}
	updated := item.Clone()
	if err := setOptional(&updated, attr, v, "optional attribute"); err != nil {
		return item, err
	}
	if updated.Minimum != "" && updated.Maximum != "" {
		lo, _ := strconv.ParseFloat(updated.Minimum, 64)
		hi, _ := strconv.ParseFloat(updated.Maximum, 64)
		if lo > hi {
			return item, configerr.Valuef("minimum %s must not exceed maximum %s", updated.Minimum, updated.Maximum)
		}
	}
	return updated, nil
}

func isOptionalName(attr string) bool {
	switch attr {
	case AttrReadonly, AttrOrder, AttrLength, AttrMaximum, AttrMinimum, AttrRule, AttrDeprecated,
		AttrDisplayName, AttrValidity, AttrMandatory, AttrGroup, AttrListSize, AttrListName,
		AttrItems, AttrKeyName, AttrKeyDescription:
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func (it Items) toMap() map[string]any {
	out := make(map[string]any, len(it))
	for name, item := range it {
		out[name] = item.Map()
	}
	return out
}

// Map returns the item in its loose map form.
func (i Item) Map() map[string]any {
	m := map[string]any{
		AttrDescription: i.Description,
		AttrType:        i.Type,
		AttrDefault:     i.Default,
		AttrValue:       i.Value,
	}
	for _, attr := range []string{AttrReadonly, AttrOrder, AttrLength, AttrMinimum, AttrMaximum, AttrRule,
		AttrDeprecated, AttrDisplayName, AttrValidity, AttrMandatory, AttrGroup, AttrListSize, AttrListName,
		AttrItems, AttrKeyName, AttrKeyDescription} {
		if v, ok := i.Optional(attr); ok {
			m[attr] = v
		}
	}
	if i.File != "" {
		m[AttrFile] = i.File
	}
	if i.Permissions != nil {
		m[AttrPermissions] = append([]string(nil), i.Permissions...)
	}
	if i.Options != nil {
		m[AttrOptions] = append([]string(nil), i.Options...)
	}
	if i.Properties != nil {
		m[AttrProperties] = cloneMap(i.Properties)
	}
	return m
}
