package domain

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

var pathSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_$-]+$`)

// SchemaDoc is a decoded JSON Schema document. Documents handed out by the
// schema repository are shared and must be cloned before any mutation.
type SchemaDoc map[string]any

func ParseSchemaDoc(raw []byte) (SchemaDoc, error) {
	var doc SchemaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode schema: %w", ErrInvalidInput)
	}
	return doc, nil
}

// Clone returns a deep copy that shares no maps or slices with d.
func (d SchemaDoc) Clone() (SchemaDoc, error) {
	var out SchemaDoc
	if err := deepcopy.Copy(&out, d); err != nil {
		return nil, fmt.Errorf("clone schema: %w", err)
	}
	return out, nil
}

// Object walks a dotted location such as
// "properties.data.properties.plans.items" and returns the schema object
// found there.
func (d SchemaDoc) Object(location string) (map[string]any, error) {
	segments := SplitPath(location)
	if segments == nil {
		return nil, fmt.Errorf("%w: %q", ErrSchemaPath, location)
	}
	var current map[string]any = d
	for _, seg := range segments {
		if !pathSegmentPattern.MatchString(seg) {
			return nil, fmt.Errorf("%w: %q", ErrSchemaPath, location)
		}
		next, ok := current[seg].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSchemaPath, location)
		}
		current = next
	}
	return current, nil
}

// SetEnum replaces the enum keyword at location. With no values the enum is
// dropped and "not": {} is set instead, which no instance satisfies; draft-07
// does not allow an empty enum.
func (d SchemaDoc) SetEnum(location string, values []string) error {
	obj, err := d.Object(location)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		delete(obj, "enum")
		obj["not"] = map[string]any{}
		return nil
	}
	enum := make([]any, 0, len(values))
	for _, v := range values {
		enum = append(enum, v)
	}
	obj["enum"] = enum
	delete(obj, "not")
	return nil
}

// AppendRequired adds names to the required array at location, skipping
// names that are already present.
func (d SchemaDoc) AppendRequired(location string, names ...string) error {
	obj, err := d.Object(location)
	if err != nil {
		return err
	}
	var required []any
	switch existing := obj["required"].(type) {
	case nil:
	case []any:
		required = existing
	default:
		return fmt.Errorf("%w: %q required is %T", ErrSchemaPath, location, existing)
	}
	for _, name := range names {
		if !slices.Contains(required, any(name)) {
			required = append(required, name)
		}
	}
	obj["required"] = required
	return nil
}

// Set assigns key inside the object at location.
func (d SchemaDoc) Set(location, key string, value any) error {
	obj, err := d.Object(location)
	if err != nil {
		return err
	}
	obj[key] = value
	return nil
}

// Marshal renders the document with sorted keys.
func (d SchemaDoc) Marshal() ([]byte, error) {
	out, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return out, nil
}

// SplitPath splits a dotted location into its segments. Empty segments make
// the whole location invalid and nil is returned.
func SplitPath(path string) []string {
	segments := make([]string, 0)
	current := ""
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			if current == "" {
				return nil
			}
			segments = append(segments, current)
			current = ""
			continue
		}
		current += string(path[i])
	}
	if current == "" {
		return nil
	}
	segments = append(segments, current)
	return segments
}
