package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntaxErrorCarriesPosition(t *testing.T) {
	err := NewSyntaxError(3, 14, 52, fmt.Errorf("invalid character"))

	require.True(t, IsSyntaxError(err))
	assert.Equal(t, "SYNTAX_ERROR", err.Code)
	assert.Equal(t, 3, err.Details["line"])
	assert.Equal(t, 14, err.Details["column"])
	assert.Equal(t, int64(52), err.Details["offset"])
	assert.Contains(t, err.Error(), "invalid character")
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	base := NewPreconditionError("image_prompt_patch", "需要先加载结构骨架")
	wrapped := fmt.Errorf("ingest: %w", base)

	assert.True(t, IsPreconditionError(wrapped))
	assert.False(t, IsCapacityExceededError(wrapped))
	assert.Equal(t, ErrorTypePrecondition, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeError, TypeOf(errors.New("plain")))
}

func TestWrapErrorKeepsTypeAndDetails(t *testing.T) {
	base := NewCapacityExceededError(2048, 1024)
	err := WrapError(base, "保存失败", ErrorTypeError)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrorTypeCapacityExceeded, appErr.Type)
	assert.Equal(t, int64(1024), appErr.Details["quota"])
	assert.Nil(t, WrapError(nil, "noop", ErrorTypeError))
}

func TestReferenceMismatchMessage(t *testing.T) {
	err := NewReferenceMismatchError([]string{"S09.01"}, 4)
	assert.Equal(t, "REFERENCE_MISMATCH", err.Code)
	assert.Contains(t, err.Message, "1/4")
}
