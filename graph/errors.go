//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"errors"
	"fmt"
)

// Validation errors. Each of them is reported wrapped together with ErrValidation.
var (
	ErrValidation      = errors.New("graph validation failed")
	ErrCycleDetected   = errors.New("cycle detected")
	ErrUnresolvedInput = errors.New("unresolved input")
	ErrAmbiguousInput  = errors.New("ambiguous input")
	ErrDuplicateTask   = errors.New("duplicate task")
	ErrInvalidTask     = errors.New("invalid task")
	ErrInvalidPlan     = errors.New("invalid plan")
)

// Execution errors.
var (
	ErrTaskTimeout     = errors.New("task timed out")
	ErrTaskPanic       = errors.New("task panicked")
	ErrDependency      = errors.New("dependency did not succeed")
	ErrOutputWritten   = errors.New("task output already written")
	ErrPoolUnavailable = errors.New("worker pool unavailable")
)

func validationError(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrValidation, cause, fmt.Sprintf(format, args...))
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the executor does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
