package main

import (
	"os"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/chronockpt/pkg/loader"
)

func TestTextAddr(t *testing.T) {
	src, err := os.ReadFile("gen.go")
	require.NoError(t, err)
	m := regexp.MustCompile(`-ldflags=-T=(0x[0-9a-f]+)`).FindSubmatch(src)
	require.NotNil(t, m, "gen.go must set the text address")
	addr, err := strconv.ParseUint(string(m[1]), 0, 64)
	require.NoError(t, err)
	assert.Equal(t, uint64(loader.TextAddr), addr)

	// clear of the default text, brk heap and low mmap area of targets
	assert.Greater(t, addr, uint64(1<<32))
	assert.GreaterOrEqual(t, addr, uint64(loader.DefaultBase)+1<<30)
	// and of the stack and mmap area under the Sv39 ceiling
	assert.Less(t, addr, uint64(loader.DefaultCeiling)-1<<36)
	assert.Zero(t, addr%(1<<16))
}
