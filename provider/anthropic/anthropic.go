//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package anthropic provides a provider backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

const (
	// Vendor is the vendor name reported in provider.Info.
	Vendor = "anthropic"
	// DefaultMaxTokens is sent when a request does not set MaxTokens; the API requires one.
	DefaultMaxTokens = 1024
)

// Provider calls the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
	name   string
	model  string
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New creates a provider registered as name that defaults to model.
func New(name, model string, opts ...Option) *Provider {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(o.httpClient))
	}
	clientOpts = append(clientOpts, option.WithMaxRetries(0))
	return &Provider{
		client: anthropic.NewClient(clientOpts...),
		name:   name,
		model:  model,
	}
}

// Info implements provider.Provider.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Vendor: Vendor, Model: p.model}
}

// Invoke implements provider.Provider. Embedding requests are not supported by this vendor.
func (p *Provider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", provider.ErrInvalidRequest)
	}
	if req.Kind == provider.KindEmbedding {
		return nil, fmt.Errorf("%w: %s does not serve embeddings", provider.ErrInvalidRequest, Vendor)
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := int64(DefaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	system, rest := provider.SplitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(model),
		Messages:      buildMessages(rest),
		MaxTokens:     maxTokens,
		StopSequences: req.Stop,
	}
	for _, s := range system {
		params.System = append(params.System, anthropic.TextBlockParam{Text: s})
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}
	rsp := &provider.Response{FinishReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			rsp.Text += block.AsText().Text
		case "tool_use":
			use := block.AsToolUse()
			args, err := json.Marshal(use.Input)
			if err != nil {
				return nil, fmt.Errorf("encode tool input of %s: %w", use.Name, err)
			}
			rsp.ToolCalls = append(rsp.ToolCalls, provider.ToolCall{ID: use.ID, Name: use.Name, Arguments: args})
		}
	}
	rsp.Usage = &provider.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return rsp, nil
}

func (p *Provider) classify(err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return provider.Classify(p.name, status, err)
}

func buildMessages(msgs []provider.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						input = string(tc.Arguments)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case provider.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func buildTools(decls []*tool.Declaration) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if d.InputSchema != nil {
			schema.Properties = d.InputSchema.Properties
			schema.Required = d.InputSchema.Required
		}
		u := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if d.Description != "" && u.OfTool != nil {
			u.OfTool.Description = anthropic.String(d.Description)
		}
		out = append(out, u)
	}
	return out
}
