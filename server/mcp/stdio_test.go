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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The stdio server always uses the process stdin and stdout, so these tests
// swap them for pipes and never run in parallel.

type stdioConn struct {
	t   *testing.T
	in  *os.File
	out *bufio.Reader
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serveStdio runs s.ServeStdio on piped stdin and stdout until the test ends.
// stop cancels the session and returns the result of ServeStdio.
func serveStdio(t *testing.T, s *Server) (conn *stdioConn, stop func() error) {
	t.Helper()
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	stdin, stdout := os.Stdin, os.Stdout
	os.Stdin, os.Stdout = inR, outW
	t.Cleanup(func() {
		os.Stdin, os.Stdout = stdin, stdout
		for _, f := range []*os.File{inW, inR, outW, outR} {
			_ = f.Close()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	var serveErr error
	go func() {
		defer close(finished)
		serveErr = s.ServeStdio(ctx)
	}()
	stop = func() error {
		cancel()
		select {
		case <-finished:
			return serveErr
		case <-time.After(waitFor):
			return errors.New("ServeStdio ignored the cancelled context")
		}
	}
	t.Cleanup(func() { assert.NoError(t, stop()) })
	return &stdioConn{t: t, in: inW, out: bufio.NewReader(outR)}, stop
}

func (c *stdioConn) send(line string) {
	c.t.Helper()
	_, err := c.in.WriteString(line + "\n")
	require.NoError(c.t, err)
}

func (c *stdioConn) receive() *rpcResponse {
	c.t.Helper()
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := c.out.ReadString('\n')
		if err != nil {
			errs <- err
			return
		}
		lines <- line
	}()
	select {
	case line := <-lines:
		var rsp rpcResponse
		require.NoError(c.t, json.Unmarshal([]byte(line), &rsp), line)
		return &rsp
	case err := <-errs:
		require.NoError(c.t, err)
	case <-time.After(waitFor):
		c.t.Fatal("no response on stdout")
	}
	return nil
}

// roundTrip sends one request and waits for its response.
func (c *stdioConn) roundTrip(line string) *rpcResponse {
	c.t.Helper()
	c.send(line)
	return c.receive()
}

func TestServeStdio(t *testing.T) {
	conn, _ := serveStdio(t, newTestServer(t))

	rsp := conn.roundTrip(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"c","version":"1"}}}`)
	require.Nil(t, rsp.Error)
	assert.JSONEq(t, `1`, string(rsp.ID))
	conn.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	rsp = conn.roundTrip(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, rsp.Error)
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rsp.Result, &list))
	names := make([]string, 0, len(list.Tools))
	for _, tl := range list.Tools {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "length", "fail"}, names)

	rsp = conn.roundTrip(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)
	require.Nil(t, rsp.Error)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"hi"}]}`, string(rsp.Result))

	rsp = conn.roundTrip(`{"jsonrpc":"2.0","id":4,"method":"prompts/get","params":{"name":"greet","arguments":{"who":"Ada"}}}`)
	require.Nil(t, rsp.Error)
	assert.Contains(t, string(rsp.Result), "Hello, Ada")

	rsp = conn.roundTrip(`{"jsonrpc":"2.0","id":5,"method":"resources/read","params":{"uri":"file:///readme"}}`)
	require.Nil(t, rsp.Error)
	assert.Contains(t, string(rsp.Result), "read me")

	rsp = conn.roundTrip(`{"jsonrpc":"2.0","id":6,"method":"no/such/method"}`)
	require.NotNil(t, rsp.Error)
	assert.Equal(t, -32601, rsp.Error.Code)
}

func TestServeStdio_OversizedLineThenPing(t *testing.T) {
	conn, _ := serveStdio(t, newTestServer(t))

	pad := strings.Repeat("x", 5<<20)
	rsp := conn.roundTrip(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + pad + `"}}`)
	require.Nil(t, rsp.Error)
	assert.JSONEq(t, `1`, string(rsp.ID))

	rsp = conn.roundTrip(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Nil(t, rsp.Error)
	assert.JSONEq(t, `2`, string(rsp.ID))
}

func TestServeStdio_ReturnsOnCancel(t *testing.T) {
	conn, stop := serveStdio(t, newTestServer(t))
	rsp := conn.roundTrip(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Nil(t, rsp.Error)

	// stdin stays open: only the context ends the session.
	require.NoError(t, stop())
}
