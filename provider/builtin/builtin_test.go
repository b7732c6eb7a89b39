//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-pipeline/provider"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Config{Name: "a", Kind: KindOpenAI, Model: "m"}.Validate())
	require.Error(t, Config{Kind: KindOpenAI, Model: "m"}.Validate())
	require.Error(t, Config{Name: "a", Kind: KindOpenAI}.Validate())
	require.ErrorIs(t, Config{Name: "a", Kind: "mystery", Model: "m"}.Validate(), ErrUnsupportedKind)
}

func TestRegisterAll(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "secret")
	reg := provider.NewRegistry()
	err := RegisterAll(context.Background(), reg, []Config{
		{Name: "main", Kind: KindOpenAI, Model: "gpt-4o-mini", APIKey: "k"},
		{Name: "claude", Kind: KindAnthropic, Model: "claude-test", APIKeyEnv: "TEST_ANTHROPIC_KEY"},
		{Name: "gem", Kind: KindGemini, Model: "gemini-2.0-flash", APIKey: "k"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "gem", "main"}, reg.Names())

	p, err := reg.Get("claude")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Info().Vendor)
}

func TestRegisterAll_Duplicate(t *testing.T) {
	reg := provider.NewRegistry()
	err := RegisterAll(context.Background(), reg, []Config{
		{Name: "main", Kind: KindOpenAI, Model: "a", APIKey: "k"},
		{Name: "main", Kind: KindOpenAI, Model: "b", APIKey: "k"},
	})
	require.ErrorIs(t, err, provider.ErrDuplicateProvider)
}

func TestConfigAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "from-env")
	assert.Equal(t, "from-env", Config{APIKeyEnv: "TEST_KEY"}.apiKey())
	assert.Equal(t, "direct", Config{APIKey: "direct", APIKeyEnv: "TEST_KEY"}.apiKey())
}
