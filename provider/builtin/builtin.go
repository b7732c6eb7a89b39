//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin builds the vendor providers from configuration at startup.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider/anthropic"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider/gemini"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider/openai"
)

// Kind names a vendor variant.
type Kind string

// Supported vendor variants.
const (
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
	KindAnthropic Kind = "anthropic"
)

// ErrUnsupportedKind is returned for an unknown vendor variant.
var ErrUnsupportedKind = errors.New("unsupported provider kind")

// Config describes one provider entry.
type Config struct {
	Name  string `yaml:"name" json:"name"`
	Kind  Kind   `yaml:"kind" json:"kind"`
	Model string `yaml:"model" json:"model"`
	// APIKey is used verbatim; APIKeyEnv names an environment variable to read it from.
	APIKey         string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	APIKeyEnv      string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	EmbeddingModel string `yaml:"embedding_model,omitempty" json:"embedding_model,omitempty"`
}

// Validate checks the entry without contacting the vendor.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("provider name is required")
	}
	switch c.Kind {
	case KindOpenAI, KindGemini, KindAnthropic:
	default:
		return fmt.Errorf("%w: %q (provider %s)", ErrUnsupportedKind, c.Kind, c.Name)
	}
	if c.Model == "" {
		return fmt.Errorf("provider %s: model is required", c.Name)
	}
	return nil
}

func (c Config) apiKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// New builds the provider described by c.
func New(ctx context.Context, c Config) (provider.Provider, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	key := c.apiKey()
	switch c.Kind {
	case KindOpenAI:
		opts := []openai.Option{openai.WithAPIKey(key), openai.WithBaseURL(c.BaseURL)}
		if c.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(c.EmbeddingModel))
		}
		return openai.New(c.Name, c.Model, opts...), nil
	case KindGemini:
		opts := []gemini.Option{gemini.WithBaseURL(c.BaseURL)}
		if key != "" {
			opts = append(opts, gemini.WithAPIKey(key))
		}
		if c.EmbeddingModel != "" {
			opts = append(opts, gemini.WithEmbeddingModel(c.EmbeddingModel))
		}
		return gemini.New(ctx, c.Name, c.Model, opts...)
	default:
		return anthropic.New(c.Name, c.Model, anthropic.WithAPIKey(key), anthropic.WithBaseURL(c.BaseURL)), nil
	}
}

// RegisterAll builds every entry and registers it. It stops at the first failure.
func RegisterAll(ctx context.Context, reg *provider.Registry, configs []Config) error {
	for _, c := range configs {
		p, err := New(ctx, c)
		if err != nil {
			return fmt.Errorf("build provider %s: %w", c.Name, err)
		}
		if err := reg.Register(p); err != nil {
			return err
		}
		log.Infof("registered provider %s (%s, model %s)", c.Name, c.Kind, c.Model)
	}
	return nil
}
