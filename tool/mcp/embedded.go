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
	"net/http"
	"net/http/httptest"
)

const defaultEmbeddedPath = "/mcp"

// inProcess hands client requests straight to a server handler in the same
// process. Responses are buffered, so the server must answer with JSON
// rather than an event stream.
type inProcess struct {
	h http.Handler
}

// Handle implements mcp.HTTPReqHandler.
func (p inProcess) Handle(ctx context.Context, _ *http.Client, req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	p.h.ServeHTTP(rec, req.WithContext(ctx))
	return rec.Result(), nil
}
