//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides a provider backed by the OpenAI compatible chat and embedding APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
)

const (
	// Vendor is the vendor name reported in provider.Info.
	Vendor = "openai"
	// DefaultEmbeddingModel is used for embedding requests when none is given.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Provider calls an OpenAI compatible endpoint.
type Provider struct {
	client         openai.Client
	name           string
	model          string
	embeddingModel string
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	embeddingModel string
	openaiOptions  []openaiopt.RequestOption
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL sets the API base URL, e.g. for a compatible gateway.
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

// WithEmbeddingModel sets the model used for embedding requests.
func WithEmbeddingModel(model string) Option {
	return func(o *options) {
		o.embeddingModel = model
	}
}

// WithOpenAIOptions passes extra request options to the SDK client.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) {
		o.openaiOptions = append(o.openaiOptions, opts...)
	}
}

// New creates a provider registered as name that defaults to model.
func New(name, model string, opts ...Option) *Provider {
	o := &options{embeddingModel: DefaultEmbeddingModel}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.httpClient))
	}
	// Retries belong to the scheduler's retry policy.
	clientOpts = append(clientOpts, openaiopt.WithMaxRetries(0))
	clientOpts = append(clientOpts, o.openaiOptions...)

	return &Provider{
		client:         openai.NewClient(clientOpts...),
		name:           name,
		model:          model,
		embeddingModel: o.embeddingModel,
	}
}

// Info implements provider.Provider.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Vendor: Vendor, Model: p.model}
}

// Invoke implements provider.Provider.
func (p *Provider) Invoke(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", provider.ErrInvalidRequest)
	}
	if req.Kind == provider.KindEmbedding {
		return p.embed(ctx, req)
	}
	return p.chat(ctx, req)
}

func (p *Provider) chat(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req),
	}
	if req.MaxTokens > 0 {
		chatRequest.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		chatRequest.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Stop) > 0 {
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(req.Stop[0]),
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		return nil, p.classify(err)
	}
	rsp := &provider.Response{}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		rsp.Text = choice.Message.Content
		rsp.FinishReason = choice.FinishReason
		for j, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("auto_call_%d", j)
			}
			rsp.ToolCalls = append(rsp.ToolCalls, provider.ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	if completion.Usage.PromptTokens > 0 || completion.Usage.CompletionTokens > 0 {
		rsp.Usage = &provider.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		}
	}
	return rsp, nil
}

func (p *Provider) embed(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if len(req.Input) == 0 {
		return nil, fmt.Errorf("%w: embedding input cannot be empty", provider.ErrInvalidRequest)
	}
	model := p.embeddingModel
	if req.Model != "" {
		model = req.Model
	}
	response, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, p.classify(err)
	}
	rsp := &provider.Response{Embeddings: make([][]float64, len(req.Input))}
	for _, d := range response.Data {
		if int(d.Index) < len(rsp.Embeddings) {
			rsp.Embeddings[d.Index] = d.Embedding
		}
	}
	if response.Usage.PromptTokens > 0 {
		rsp.Usage = &provider.Usage{
			PromptTokens: int(response.Usage.PromptTokens),
			TotalTokens:  int(response.Usage.TotalTokens),
		}
	}
	return rsp, nil
}

func (p *Provider) classify(err error) error {
	status := 0
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return provider.Classify(p.name, status, err)
}

func convertMessages(messages []provider.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case provider.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case provider.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case provider.RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolCallID,
				},
			})
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func convertToolCalls(calls []provider.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, tc := range calls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return result
}

func convertTools(req *provider.Request) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, decl := range req.Tools {
		schemaBytes, err := json.Marshal(decl.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", decl.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", decl.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        decl.Name,
				Description: openai.String(decl.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}
