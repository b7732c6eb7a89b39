//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool holds reflection helpers that derive tool schemas from Go types.
package tool

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

// GenerateJSONSchema generates a JSON schema from a reflect.Type.
// Struct fields without omitempty that are not pointers are marked required.
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: tool.TypeObject}
	}
	switch t.Kind() {
	case reflect.Struct:
		return structSchema(t, true)
	case reflect.Ptr:
		elem := GenerateJSONSchema(t.Elem())
		elem.Type = elem.Type + ",null"
		return elem
	default:
		return GenerateFieldSchema(t)
	}
}

// GenerateFieldSchema generates schema for a specific field type.
func GenerateFieldSchema(t reflect.Type) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: tool.TypeString}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: tool.TypeInteger}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: tool.TypeNumber}
	case reflect.Bool:
		return &tool.Schema{Type: tool.TypeBoolean}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{
			Type:  tool.TypeArray,
			Items: GenerateFieldSchema(t.Elem()),
		}
	case reflect.Map:
		return &tool.Schema{
			Type:                 tool.TypeObject,
			AdditionalProperties: GenerateFieldSchema(t.Elem()),
		}
	case reflect.Ptr:
		elem := GenerateFieldSchema(t.Elem())
		// Pointers are nullable
		elem.Type = elem.Type + ",null"
		return elem
	case reflect.Struct:
		return structSchema(t, false)
	default:
		// interface{} and friends accept any JSON value.
		return &tool.Schema{}
	}
}

func structSchema(t reflect.Type, markRequired bool) *tool.Schema {
	schema := &tool.Schema{
		Type:       tool.TypeObject,
		Properties: map[string]*tool.Schema{},
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fs := GenerateFieldSchema(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			fs.Description = desc
		}
		schema.Properties[name] = fs
		if markRequired && field.Type.Kind() != reflect.Ptr && !omitEmpty {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	if idx := strings.Index(tag, ","); idx != -1 {
		if idx > 0 {
			name = tag[:idx]
		}
		return name, strings.Contains(tag[idx:], "omitempty"), false
	}
	return tag, false, false
}
