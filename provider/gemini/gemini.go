//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package gemini provides a provider backed by the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool"
)

const (
	// Vendor is the vendor name reported in provider.Info.
	Vendor = "gemini"
	// GoogleAPIKeyEnv is read when no API key option is given.
	GoogleAPIKeyEnv = "GOOGLE_API_KEY"
	// DefaultEmbeddingModel is used for embedding requests when none is given.
	DefaultEmbeddingModel = "text-embedding-004"
)

// Provider calls the Gemini API.
type Provider struct {
	client         *genai.Client
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

// WithEmbeddingModel sets the model used for embedding requests.
func WithEmbeddingModel(model string) Option {
	return func(o *options) {
		o.embeddingModel = model
	}
}

// New creates a provider registered as name that defaults to model.
func New(ctx context.Context, name, model string, opts ...Option) (*Provider, error) {
	o := &options{
		apiKey:         os.Getenv(GoogleAPIKeyEnv),
		embeddingModel: DefaultEmbeddingModel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("%s is not provided", GoogleAPIKeyEnv)
	}
	cfg := &genai.ClientConfig{
		APIKey:     o.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions.BaseURL = o.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{
		client:         client,
		name:           name,
		model:          strings.TrimPrefix(model, "models/"),
		embeddingModel: strings.TrimPrefix(o.embeddingModel, "models/"),
	}, nil
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
	return p.generate(ctx, req)
}

func (p *Provider) generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	model := p.model
	if req.Model != "" {
		model = strings.TrimPrefix(req.Model, "models/")
	}
	system, rest := provider.SplitSystem(req.Messages)
	cfg := &genai.GenerateContentConfig{
		StopSequences: req.Stop,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n"), genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, convertContents(rest), cfg)
	if err != nil {
		return nil, p.classify(err)
	}
	rsp := &provider.Response{Text: resp.Text()}
	for i, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			log.Warnf("gemini: cannot encode arguments of %s: %v", fc.Name, err)
			continue
		}
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("auto_call_%d", i)
		}
		rsp.ToolCalls = append(rsp.ToolCalls, provider.ToolCall{ID: id, Name: fc.Name, Arguments: args})
	}
	if len(resp.Candidates) > 0 {
		rsp.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if u := resp.UsageMetadata; u != nil {
		rsp.Usage = &provider.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
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
		model = strings.TrimPrefix(req.Model, "models/")
	}
	contents := make([]*genai.Content, 0, len(req.Input))
	for _, text := range req.Input {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	resp, err := p.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, p.classify(err)
	}
	rsp := &provider.Response{Embeddings: make([][]float64, 0, len(resp.Embeddings))}
	for _, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for i, v := range e.Values {
			vec[i] = float64(v)
		}
		rsp.Embeddings = append(rsp.Embeddings, vec)
	}
	return rsp, nil
}

func (p *Provider) classify(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return provider.Classify(p.name, status, err)
}

// convertContents maps the conversation onto Gemini's user/model roles.
// Tool results are fed back as user text.
func convertContents(msgs []provider.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleAssistant:
			text := m.Content
			for _, tc := range m.ToolCalls {
				text += fmt.Sprintf("\n[call %s %s]", tc.Name, string(tc.Arguments))
			}
			out = append(out, genai.NewContentFromText(text, genai.RoleModel))
		case provider.RoleTool:
			out = append(out, genai.NewContentFromText("Observation: "+m.Content, genai.RoleUser))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return out
}

func convertTools(decls []*tool.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  convertSchema(d.InputSchema),
		})
	}
	return out
}

func convertSchema(s *tool.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	gs := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Items:       convertSchema(s.Items),
	}
	types := strings.Split(s.Type, ",")
	switch strings.TrimSpace(types[0]) {
	case tool.TypeString:
		gs.Type = genai.TypeString
	case tool.TypeNumber:
		gs.Type = genai.TypeNumber
	case tool.TypeInteger:
		gs.Type = genai.TypeInteger
	case tool.TypeBoolean:
		gs.Type = genai.TypeBoolean
	case tool.TypeArray:
		gs.Type = genai.TypeArray
	case tool.TypeObject:
		gs.Type = genai.TypeObject
	}
	if len(s.Properties) > 0 {
		gs.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			gs.Properties[k] = convertSchema(v)
		}
	}
	for _, e := range s.Enum {
		gs.Enum = append(gs.Enum, fmt.Sprint(e))
	}
	return gs
}
