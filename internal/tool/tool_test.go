//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itool "trpc.group/trpc-go/trpc-agent-pipeline/internal/tool"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

type fetchArgs struct {
	URL     string            `json:"url" description:"page to fetch"`
	Retries *int              `json:"retries"`
	Tags    []string          `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Ignored string            `json:"-"`
	hidden  string
}

func TestGenerateJSONSchema_Struct(t *testing.T) {
	s := itool.GenerateJSONSchema(reflect.TypeOf(fetchArgs{}))
	require.Equal(t, tool.TypeObject, s.Type)
	assert.Equal(t, []string{"url"}, s.Required)
	assert.Equal(t, "string", s.Properties["url"].Type)
	assert.Equal(t, "page to fetch", s.Properties["url"].Description)
	assert.Equal(t, "integer,null", s.Properties["retries"].Type)
	assert.Equal(t, "array", s.Properties["tags"].Type)
	assert.Equal(t, "string", s.Properties["tags"].Items.Type)
	assert.Equal(t, "object", s.Properties["headers"].Type)
	assert.NotContains(t, s.Properties, "Ignored")
	assert.NotContains(t, s.Properties, "hidden")
}

func TestGenerateJSONSchema_ValidatesGeneratedSchema(t *testing.T) {
	s := itool.GenerateJSONSchema(reflect.TypeOf(fetchArgs{}))
	require.NoError(t, s.Validate([]byte(`{"url":"https://example.com","retries":2,"headers":{"a":"b"}}`)))
	require.NoError(t, s.Validate([]byte(`{"url":"https://example.com","retries":null}`)))
	require.ErrorIs(t, s.Validate([]byte(`{"retries":2}`)), tool.ErrSchemaMismatch)
	require.ErrorIs(t, s.Validate([]byte(`{"url":"x","headers":{"a":1}}`)), tool.ErrSchemaMismatch)
}

func TestGenerateFieldSchema_Scalars(t *testing.T) {
	assert.Equal(t, "number", itool.GenerateFieldSchema(reflect.TypeOf(1.5)).Type)
	assert.Equal(t, "boolean", itool.GenerateFieldSchema(reflect.TypeOf(true)).Type)
	assert.Equal(t, "integer", itool.GenerateFieldSchema(reflect.TypeOf(uint8(1))).Type)
	var anything any
	assert.Equal(t, "", itool.GenerateFieldSchema(reflect.TypeOf(&anything).Elem()).Type)
}
