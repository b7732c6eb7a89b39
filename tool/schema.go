//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// JSON schema type names.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeNull    = "null"
)

// Validate checks JSON encoded arguments against the schema.
// Empty arguments are treated as an empty object. A nil schema accepts anything.
// The returned error wraps ErrSchemaMismatch.
func (s *Schema) Validate(jsonArgs []byte) error {
	if s == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(jsonArgs)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("%w: arguments are not valid JSON: %v", ErrSchemaMismatch, err)
	}
	if err := s.ValidateValue(v); err != nil {
		return err
	}
	return nil
}

// ValidateValue checks an already decoded JSON value against the schema.
func (s *Schema) ValidateValue(v any) error {
	if err := validateValue("arguments", v, s); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}

func validateValue(path string, value any, s *Schema) error {
	if s == nil {
		return nil
	}
	types := schemaTypes(s.Type)
	if len(types) > 0 && !matchesAnyType(value, types) {
		return fmt.Errorf("%s must be %s, got %s", path, strings.Join(types, " or "), jsonTypeName(value))
	}
	if len(s.Enum) > 0 && !inEnum(value, s.Enum) {
		return fmt.Errorf("%s must be one of %v", path, s.Enum)
	}

	switch v := value.(type) {
	case map[string]any:
		return validateObject(path, v, s)
	case []any:
		if s.Items == nil {
			return nil
		}
		for i, item := range v {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), item, s.Items); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateObject(path string, obj map[string]any, s *Schema) error {
	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			return fmt.Errorf("%s.%s is required", path, name)
		}
	}
	// Sorted for deterministic error messages.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	extra := additionalSchema(s.AdditionalProperties)
	for _, k := range keys {
		propPath := path + "." + k
		if prop, ok := s.Properties[k]; ok {
			if err := validateValue(propPath, obj[k], prop); err != nil {
				return err
			}
			continue
		}
		if denied, ok := s.AdditionalProperties.(bool); ok && !denied {
			return fmt.Errorf("%s is not allowed", propPath)
		}
		if extra != nil {
			if err := validateValue(propPath, obj[k], extra); err != nil {
				return err
			}
		}
	}
	return nil
}

// additionalSchema normalizes the AdditionalProperties field into a schema when it holds one.
func additionalSchema(v any) *Schema {
	switch a := v.(type) {
	case *Schema:
		return a
	case map[string]any:
		bts, err := json.Marshal(a)
		if err != nil {
			return nil
		}
		var s Schema
		if err := json.Unmarshal(bts, &s); err != nil {
			return nil
		}
		return &s
	default:
		return nil
	}
}

func schemaTypes(t string) []string {
	if t == "" {
		return nil
	}
	parts := strings.Split(t, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, p)
		}
	}
	return types
}

func matchesAnyType(v any, types []string) bool {
	for _, t := range types {
		if matchesType(v, t) {
			return true
		}
	}
	return false
}

func matchesType(v any, t string) bool {
	switch t {
	case TypeNull:
		return v == nil
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		// Unknown type keywords are not enforced.
		return true
	}
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64:
		return TypeNumber
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return fmt.Sprintf("%T", v)
	}
}

func inEnum(v any, enum []any) bool {
	want := fmt.Sprint(v)
	for _, e := range enum {
		if fmt.Sprint(e) == want {
			return true
		}
	}
	return false
}
