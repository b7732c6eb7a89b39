//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis appends sealed run traces to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-agent-pipeline/runtrace"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "workbench:traces"

const (
	fieldRunID  = "run_id"
	fieldKind   = "kind"
	fieldRecord = "record"
)

// NewClient builds a client from a URL of the form
// redis://<username>:<password>@<host>:<port>/<db>?<options>.
func NewClient(url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, fmt.Errorf("redis: url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", url, err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           []string{opts.Addr},
		DB:              opts.DB,
		Username:        opts.Username,
		Password:        opts.Password,
		Protocol:        opts.Protocol,
		ClientName:      opts.ClientName,
		TLSConfig:       opts.TLSConfig,
		MaxRetries:      opts.MaxRetries,
		MinRetryBackoff: opts.MinRetryBackoff,
		MaxRetryBackoff: opts.MaxRetryBackoff,
		DialTimeout:     opts.DialTimeout,
		ReadTimeout:     opts.ReadTimeout,
		WriteTimeout:    opts.WriteTimeout,
		PoolSize:        opts.PoolSize,
		PoolTimeout:     opts.PoolTimeout,
		MinIdleConns:    opts.MinIdleConns,
		MaxIdleConns:    opts.MaxIdleConns,
		ConnMaxIdleTime: opts.ConnMaxIdleTime,
		ConnMaxLifetime: opts.ConnMaxLifetime,
	}), nil
}

// Option configures a Sink.
type Option func(*Sink)

// WithStream sets the stream key.
func WithStream(stream string) Option {
	return func(s *Sink) {
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream at roughly n entries. Zero keeps everything.
func WithMaxLen(n int64) Option {
	return func(s *Sink) {
		s.maxLen = n
	}
}

// Sink is a runtrace.Sink writing one stream entry per trace.
type Sink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	owned  bool
}

// NewSink writes to client. The caller keeps ownership of the client.
func NewSink(client redis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSink connects to url and checks the server is reachable.
// Close releases the connection.
func OpenSink(ctx context.Context, url string, opts ...Option) (*Sink, error) {
	client, err := NewClient(url)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	s := NewSink(client, opts...)
	s.owned = true
	return s, nil
}

// Stream returns the stream key.
func (s *Sink) Stream() string { return s.stream }

// Write implements runtrace.Sink.
func (s *Sink) Write(ctx context.Context, t *runtrace.Trace) error {
	bts, err := json.Marshal(t.Record())
	if err != nil {
		return fmt.Errorf("encode trace %s: %w", t.RunID(), err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			fieldRunID:  t.RunID(),
			fieldKind:   string(t.Kind()),
			fieldRecord: string(bts),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append trace %s to %s: %w", t.RunID(), s.stream, err)
	}
	return nil
}

// Records returns every trace in the stream, oldest first.
func (s *Sink) Records(ctx context.Context) ([]runtrace.Record, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.stream, err)
	}
	out := make([]runtrace.Record, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values[fieldRecord].(string)
		if !ok {
			return nil, fmt.Errorf("entry %s of %s has no record", m.ID, s.stream)
		}
		var rec runtrace.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode entry %s of %s: %w", m.ID, s.stream, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the client when the sink opened it.
func (s *Sink) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
