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
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-agent-pipeline/log"
)

// SessionHeader carries the session id issued on initialize.
const SessionHeader = "Mcp-Session-Id"

const shutdownTimeout = 5 * time.Second

// Handler returns the HTTP transport: the streamable MCP endpoint at the
// configured path and GET /health for liveness. Prompts and resources can
// no longer be added once it is called.
func (s *Server) Handler() http.Handler {
	s.markServing()

	router := mux.NewRouter()
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{SessionHeader, "Content-Type"},
	})
	router.Use(c.Handler)
	router.Handle(s.opts.path, s.http.HTTPHandler()).
		Methods(http.MethodPost, http.MethodGet, http.MethodDelete)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	// OPTIONS routes so that CORS pre-flight requests reach the middleware.
	preflight := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	router.HandleFunc(s.opts.path, preflight).Methods(http.MethodOptions)
	return router
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ListenAndServe serves the HTTP transport on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("mcp: serving http on %s%s", addr, s.opts.path)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
