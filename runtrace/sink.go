//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runtrace

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink receives sealed traces.
type Sink interface {
	Write(ctx context.Context, t *Trace) error
}

// JSONLSink appends one JSON line per trace to a writer.
type JSONLSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONLSink writes to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w}
}

// OpenJSONLFile opens path for appending, creating it if needed.
func OpenJSONLFile(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace log %s: %w", path, err)
	}
	return &JSONLSink{w: f, closer: f}, nil
}

// Write implements Sink.
func (s *JSONLSink) Write(_ context.Context, t *Trace) error {
	line, err := json.Marshal(t.Record())
	if err != nil {
		return fmt.Errorf("encode trace %s: %w", t.RunID(), err)
	}
	line = append(line, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write trace %s: %w", t.RunID(), err)
	}
	return nil
}

// Close closes the underlying file when the sink owns one.
func (s *JSONLSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadJSONL decodes every record of a trace log.
func ReadJSONL(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode trace log line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
