//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

var _ provider.Provider = (*Provider)(nil)

func newServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if seen != nil {
			require.NoError(t, json.Unmarshal(raw, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_Invoke(t *testing.T) {
	var seen map[string]any
	srv := newServer(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [
			{"type": "text", "text": "Looking it up."},
			{"type": "tool_use", "id": "tu_1", "name": "fetch", "input": {"url": "x"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 5, "output_tokens": 7}
	}`, &seen)

	p := New("claude", "claude-test", WithAPIKey("k"), WithBaseURL(srv.URL))
	rsp, err := p.Invoke(context.Background(), &provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be terse"},
			{Role: provider.RoleUser, Content: "fetch x"},
		},
		Tools: []*tool.Declaration{{
			Name:        "fetch",
			Description: "fetch a url",
			InputSchema: &tool.Schema{Type: "object", Required: []string{"url"},
				Properties: map[string]*tool.Schema{"url": {Type: "string"}}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Looking it up.", rsp.Text)
	assert.Equal(t, "tool_use", rsp.FinishReason)
	require.Len(t, rsp.ToolCalls, 1)
	assert.Equal(t, "fetch", rsp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"url":"x"}`, string(rsp.ToolCalls[0].Arguments))
	assert.Equal(t, 12, rsp.Usage.TotalTokens)

	assert.Equal(t, "claude-test", seen["model"])
	assert.EqualValues(t, DefaultMaxTokens, seen["max_tokens"])
	assert.NotNil(t, seen["system"])
	assert.NotNil(t, seen["tools"])
}

func TestProvider_Overloaded(t *testing.T) {
	srv := newServer(t, http.StatusServiceUnavailable,
		`{"type": "error", "error": {"type": "overloaded_error", "message": "overloaded"}}`, nil)

	p := New("claude", "claude-test", WithAPIKey("k"), WithBaseURL(srv.URL))
	_, err := p.Invoke(context.Background(), provider.UserPrompt("hi"))
	require.ErrorIs(t, err, provider.ErrProviderUnavailable)
}

func TestProvider_RejectsEmbedding(t *testing.T) {
	p := New("claude", "claude-test")
	_, err := p.Invoke(context.Background(), &provider.Request{Kind: provider.KindEmbedding, Input: []string{"a"}})
	require.ErrorIs(t, err, provider.ErrInvalidRequest)
}
