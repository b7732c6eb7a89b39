//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import "errors"

var (
	// ErrDuplicatePrompt is returned when a prompt name is already taken.
	ErrDuplicatePrompt = errors.New("duplicate prompt")
	// ErrDuplicateResource is returned when a resource URI is already taken.
	ErrDuplicateResource = errors.New("duplicate resource")
	// ErrMissingArgument is returned when a required prompt argument is absent.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrServing is returned when prompts or resources are added after the
	// server started serving.
	ErrServing = errors.New("server is already serving")
)
