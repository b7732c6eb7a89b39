//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the workbench configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-agent-pipeline/agent"
	"trpc.group/trpc-go/trpc-agent-pipeline/graph"
	"trpc.group/trpc-go/trpc-agent-pipeline/provider/builtin"
	"trpc.group/trpc-go/trpc-agent-pipeline/runner"
	"trpc.group/trpc-go/trpc-agent-pipeline/tool/mcp"
)

// Server transports.
const (
	TransportNone  = "none"
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Telemetry protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole workbench configuration.
type Config struct {
	Log        LogConfig         `yaml:"log"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Runner     runner.Config     `yaml:"runner"`
	Agent      AgentConfig       `yaml:"agent"`
	Providers  []builtin.Config  `yaml:"providers"`
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
	Server     ServerConfig      `yaml:"server"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	Traces     TracesConfig      `yaml:"traces"`
}

// LogConfig selects the log level: debug, info, warn, error or fatal.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig configures the pipeline executor.
type SchedulerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

// RetryConfig is the default retry policy of tasks.
type RetryConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	InitialInterval     time.Duration `yaml:"initial_interval"`
	BackoffFactor       float64       `yaml:"backoff_factor"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	Jitter              bool          `yaml:"jitter"`
	UnavailableInterval time.Duration `yaml:"unavailable_interval"`
	MaxElapsedTime      time.Duration `yaml:"max_elapsed_time"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	// Provider names the entry of Providers the agent plans with. Defaults to the first one.
	Provider     string        `yaml:"provider"`
	MaxSteps     int           `yaml:"max_steps"`
	MaxDuration  time.Duration `yaml:"max_duration"`
	SystemPrompt string        `yaml:"system_prompt"`
	NativeTools  *bool         `yaml:"native_tools"`
	MaxTokens    int           `yaml:"max_tokens"`
}

// MCPServerConfig is a remote MCP server whose tools are attached to the registry.
type MCPServerConfig struct {
	Name                 string `yaml:"name"`
	mcp.ConnectionConfig `yaml:",inline"`
	ToolPrefix           string   `yaml:"tool_prefix"`
	Include              []string `yaml:"include"`
	Exclude              []string `yaml:"exclude"`
}

// ServerConfig configures the MCP server exposing the registry.
type ServerConfig struct {
	// Transport is none, stdio or http.
	Transport      string        `yaml:"transport"`
	Address        string        `yaml:"address"`
	Path           string        `yaml:"path"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Concurrency    int           `yaml:"concurrency"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Name           string        `yaml:"name"`
	Version        string        `yaml:"version"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled         bool              `yaml:"enabled"`
	Protocol        string            `yaml:"protocol"`
	TracesEndpoint  string            `yaml:"traces_endpoint"`
	MetricsEndpoint string            `yaml:"metrics_endpoint"`
	Headers         map[string]string `yaml:"headers"`
	ServiceName     string            `yaml:"service_name"`
}

// TracesConfig configures the run trace log.
type TracesConfig struct {
	// Path of a JSONL file receiving every sealed trace. Empty disables it.
	Path string `yaml:"path"`
	// RedisURL appends every sealed trace to a Redis stream. Empty disables it.
	RedisURL string `yaml:"redis_url"`
	// Stream is the Redis stream key.
	Stream string `yaml:"stream"`
	// MaxLen caps the stream length approximately. Zero keeps every trace.
	MaxLen int64 `yaml:"max_len"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	retry := graph.DefaultRetryPolicy()
	budget := agent.DefaultBudget()
	return &Config{
		Log: LogConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			Concurrency: 4,
			TaskTimeout: time.Minute,
			Retry: RetryConfig{
				MaxAttempts:         retry.MaxAttempts,
				InitialInterval:     retry.InitialInterval,
				BackoffFactor:       retry.BackoffFactor,
				MaxInterval:         retry.MaxInterval,
				UnavailableInterval: retry.UnavailableInterval,
			},
		},
		Runner: runner.DefaultConfig(),
		Agent:  AgentConfig{MaxSteps: budget.MaxSteps, MaxDuration: budget.MaxDuration},
		Server: ServerConfig{
			Transport: TransportNone,
			Address:   ":8080",
			Path:      "/mcp",
			Name:      "trpc-agent-pipeline",
			Version:   "0.1.0",
		},
		Telemetry: TelemetryConfig{Protocol: ProtocolGRPC, ServiceName: "trpc-agent-pipeline"},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration without contacting any service.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return invalid("log.level %q", c.Log.Level)
	}
	if c.Scheduler.Concurrency < 1 {
		return invalid("scheduler.concurrency must be positive")
	}
	if c.Scheduler.Retry.MaxAttempts < 1 {
		return invalid("scheduler.retry.max_attempts must be positive")
	}
	if c.Agent.MaxSteps < 0 || c.Agent.MaxDuration < 0 {
		return invalid("agent budget must not be negative")
	}

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if providers[p.Name] {
			return invalid("duplicate provider %s", p.Name)
		}
		providers[p.Name] = true
	}
	if c.Agent.Provider != "" && !providers[c.Agent.Provider] {
		return invalid("agent.provider %s is not configured", c.Agent.Provider)
	}

	servers := make(map[string]bool, len(c.MCPServers))
	for _, s := range c.MCPServers {
		if s.Name == "" {
			return invalid("mcp server name is required")
		}
		if servers[s.Name] {
			return invalid("duplicate mcp server %s", s.Name)
		}
		servers[s.Name] = true
		if err := s.ConnectionConfig.Validate(); err != nil {
			return invalid("mcp server %s: %v", s.Name, err)
		}
	}

	switch c.Server.Transport {
	case TransportNone, TransportStdio:
	case TransportHTTP:
		if c.Server.Address == "" {
			return invalid("server.address is required for http")
		}
	default:
		return invalid("server.transport %q", c.Server.Transport)
	}

	if c.Traces.MaxLen < 0 {
		return invalid("traces.max_len must not be negative")
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case ProtocolGRPC, ProtocolHTTP:
		default:
			return invalid("telemetry.protocol %q", c.Telemetry.Protocol)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() graph.RetryPolicy {
	r := c.Scheduler.Retry
	return graph.RetryPolicy{
		MaxAttempts:         r.MaxAttempts,
		InitialInterval:     r.InitialInterval,
		BackoffFactor:       r.BackoffFactor,
		MaxInterval:         r.MaxInterval,
		Jitter:              r.Jitter,
		UnavailableInterval: r.UnavailableInterval,
		MaxElapsedTime:      r.MaxElapsedTime,
	}
}

// Budget converts the agent section.
func (c *Config) Budget() agent.Budget {
	return agent.Budget{MaxSteps: c.Agent.MaxSteps, MaxDuration: c.Agent.MaxDuration}
}

// AgentProvider returns the name of the provider the agent plans with, or ""
// when no provider is configured.
func (c *Config) AgentProvider() string {
	if c.Agent.Provider != "" {
		return c.Agent.Provider
	}
	if len(c.Providers) > 0 {
		return c.Providers[0].Name
	}
	return ""
}

// ToolSetOptions builds the tool set options of an MCP server entry.
func (s MCPServerConfig) ToolSetOptions() []mcp.ToolSetOption {
	opts := []mcp.ToolSetOption{mcp.WithName(s.Name)}
	if s.ToolPrefix != "" {
		opts = append(opts, mcp.WithToolPrefix(s.ToolPrefix))
	}
	if len(s.Include) > 0 {
		opts = append(opts, mcp.WithToolFilter(mcp.NewIncludeFilter(s.Include...)))
	}
	if len(s.Exclude) > 0 {
		opts = append(opts, mcp.WithToolFilter(mcp.NewExcludeFilter(s.Exclude...)))
	}
	return opts
}
