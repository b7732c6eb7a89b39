//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New("run-1", TypeTaskFinished,
		WithTaskID("fetch"),
		WithStatus("failed"),
		WithStep(2),
		WithError(errors.New("boom")),
		WithPayload(42),
	)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "fetch", e.TaskID)
	assert.Equal(t, "failed", e.Status)
	assert.Equal(t, 2, e.Step)
	assert.Equal(t, "boom", e.Error)
	assert.Equal(t, 42, e.Payload)
	assert.False(t, e.IsTerminal())
	assert.True(t, New("run-1", TypeRunTerminated).IsTerminal())

	other := New("run-1", TypeTaskStarted, WithError(nil))
	assert.NotEqual(t, e.ID, other.ID)
	assert.Empty(t, other.Error)
}

func TestJSONOmitsPayload(t *testing.T) {
	bts, err := json.Marshal(New("r", TypeStepCompleted, WithPayload("secret")))
	require.NoError(t, err)
	assert.NotContains(t, string(bts), "secret")
	assert.Contains(t, string(bts), `"type":"step.completed"`)
}

func TestClone(t *testing.T) {
	var nilEvent *Event
	assert.Nil(t, nilEvent.Clone())

	e := New("r", TypeTaskStarted, WithTaskID("a"))
	c := e.Clone()
	c.TaskID = "b"
	assert.Equal(t, "a", e.TaskID)
}
