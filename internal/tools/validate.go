package tools

import (
	"fmt"
	"math"
	"reflect"
)

var knownTypes = map[string]bool{
	TypeString: true, TypeInteger: true, TypeNumber: true,
	TypeBoolean: true, TypeArray: true, TypeObject: true,
}

func validateSchema(s ToolSchema) error {
	for name, p := range s.Properties {
		if !knownTypes[p.Type] {
			return fmt.Errorf("%w: property %q has unknown type %q", ErrInvalidSchema, name, p.Type)
		}
	}
	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok && len(s.Properties) > 0 {
			return fmt.Errorf("%w: required argument %q is not declared", ErrInvalidSchema, req)
		}
	}
	return nil
}

// ValidateArgs checks args against schema: required arguments present and
// non-null, declared arguments of the declared JSON type, enum membership.
// Undeclared arguments are passed through untouched.
func ValidateArgs(schema ToolSchema, args map[string]any) error {
	if raw, ok := args["_raw"]; ok && len(args) == 1 {
		return fmt.Errorf("%w: %v", ErrMalformedArguments, raw)
	}
	for _, required := range schema.Required {
		v, ok := args[required]
		if !ok || v == nil {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	for name, prop := range schema.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if !matchesType(prop.Type, v) {
			return fmt.Errorf("%w: %s must be %s, got %s", ErrInvalidArgType, name, prop.Type, jsonTypeOf(v))
		}
		if prop.Type == TypeArray && prop.Items != nil && prop.Items.Type != "" {
			rv := reflect.ValueOf(v)
			for i := 0; i < rv.Len(); i++ {
				if !matchesType(prop.Items.Type, rv.Index(i).Interface()) {
					return fmt.Errorf("%w: %s[%d] must be %s", ErrInvalidArgType, name, i, prop.Items.Type)
				}
			}
		}
		if len(prop.Enum) > 0 && !inEnum(prop.Enum, v) {
			return fmt.Errorf("%w: %s must be one of %v, got %v", ErrInvalidArgValue, name, prop.Enum, v)
		}
	}
	return nil
}

func matchesType(want string, v any) bool {
	switch want {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		if v == nil {
			return false
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func jsonTypeOf(v any) string {
	for _, t := range []string{TypeBoolean, TypeString, TypeInteger, TypeNumber, TypeArray, TypeObject} {
		if matchesType(t, v) {
			return t
		}
	}
	return fmt.Sprintf("%T", v)
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
