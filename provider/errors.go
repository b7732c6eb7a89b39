//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Errors.
var (
	// ErrProviderUnavailable means the provider could not be reached or refused service.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTimeout means a provider call exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")
	// ErrInvalidRequest means the provider rejected the request itself.
	ErrInvalidRequest = errors.New("invalid provider request")
	// ErrUnknownProvider is returned by the registry for unregistered names.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrDuplicateProvider is returned when registering a name twice.
	ErrDuplicateProvider = errors.New("provider already registered")
)

// Error is a failure reported by a named provider.
type Error struct {
	Provider string
	// Kind is one of ErrProviderUnavailable, ErrTimeout or ErrInvalidRequest, or nil.
	Kind error
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("provider %s: %v: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Unwrap exposes both the classification and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// Classify wraps err as an *Error for the named provider.
// status is the HTTP status code when the vendor SDK reports one, 0 otherwise.
func Classify(name string, status int, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	return &Error{Provider: name, Kind: classify(status, err), Err: err}
}

func classify(status int, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return ErrProviderUnavailable
	case status >= http.StatusBadRequest:
		return ErrInvalidRequest
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrProviderUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrProviderUnavailable
	}
	return nil
}
