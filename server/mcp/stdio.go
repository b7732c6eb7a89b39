//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"errors"
)

// ServeStdio serves newline-delimited MCP messages on the process stdin and
// stdout until stdin is exhausted or ctx is done. Requests are handled
// concurrently and answered out of order; each response carries its request
// id. Prompts and resources can no longer be added once it is called.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.markServing()
	err := s.stdio.StartWithContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
