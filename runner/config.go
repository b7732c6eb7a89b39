//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import "time"

// Config holds the limits applied to submitted runs.
type Config struct {
	// MaxConcurrent is the maximum number of runs executing at once. Further
	// runs wait for a slot. Zero means no limit.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// Timeout bounds each run. Zero means no limit.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// BufferSize is the capacity of subscriber channels.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// DefaultConfig returns a default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 10,
		BufferSize:    100,
	}
}

// WithTimeout sets the timeout for the config.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithMaxConcurrent sets the maximum concurrent runs.
func (c Config) WithMaxConcurrent(max int) Config {
	c.MaxConcurrent = max
	return c
}

// WithBufferSize sets the buffer size for subscriber channels.
func (c Config) WithBufferSize(size int) Config {
	c.BufferSize = size
	return c
}
