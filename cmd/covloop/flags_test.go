package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValueFlag(t *testing.T) {
	var kv keyValueFlag
	require.NoError(t, kv.Set("coverage.target=85"))
	require.NoError(t, kv.Set(" backend.name =claude"))
	require.NoError(t, kv.Set("toolchain.command=make sim ARGS=1"))

	assert.Equal(t, "85", kv["coverage.target"])
	assert.Equal(t, "claude", kv["backend.name"])
	assert.Equal(t, "make sim ARGS=1", kv["toolchain.command"])
	assert.Equal(t, []string{"backend.name", "coverage.target", "toolchain.command"}, kv.Keys())
	assert.Equal(t, "backend.name=claude, coverage.target=85, toolchain.command=make sim ARGS=1", kv.String())
	assert.Equal(t, "key=value", kv.Type())

	assert.Error(t, kv.Set("novalue"))
	assert.Error(t, kv.Set("=x"))
}
