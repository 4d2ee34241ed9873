package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NotFound("resource", "resource-1")
	assert.Equal(t, "not_found: resource resource-1 not found", err.Error())

	wrapped := Wrap(io.EOF, CodeInvalidState, "reading snapshot")
	assert.Equal(t, "invalid_state: reading snapshot: EOF", wrapped.Error())
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrap(io.EOF, CodeInvalidState, "reading snapshot")
	assert.True(t, stderrors.Is(err, io.EOF))
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	inner := AlreadyReleased("allocation-1")
	outer := fmt.Errorf("release failed: %w", inner)

	assert.Equal(t, CodeAlreadyReleased, CodeOf(outer))
	assert.True(t, IsCode(outer, CodeAlreadyReleased))
	assert.False(t, IsCode(outer, CodeNotFound))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(io.EOF))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.False(t, IsCode(io.EOF, CodeNotFound))
}

func TestIsMatchesByCode(t *testing.T) {
	a := NoSuitableResource("req-1")
	b := NoSuitableResource("req-2")
	require.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, NotFound("resource", "x")))
}
