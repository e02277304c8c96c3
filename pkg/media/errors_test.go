package media

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     ErrorCode
	}{
		{"not found", NotFound("session not found", "abc"), ErrNotFound, CodeNotFound},
		{"conflict", Conflict("merge in progress", "abc"), ErrConflict, CodeConflict},
		{"validation", Validationf("abc", "index %d out of range", 7), ErrValidation, CodeValidation},
		{"consistency", ConsistencyFault("chunk missing on disk", "abc/3", nil), ErrConsistency, CodeConsistency},
		{"backend", BackendError("s3", "PutObject", "k", errors.New("timeout")), ErrBackend, CodeBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.code, CodeOf(tt.err))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.code, CodeOf(wrapped))
		})
	}
}

func TestErrorDoesNotMatchOtherSentinels(t *testing.T) {
	err := NotFound("file not found", "id-1")
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrBackend)
}

func TestBackendErrorWrapsProviderError(t *testing.T) {
	cause := errors.New("AccessDenied: bad key")
	err := BackendError("minio", "StatObject", "a/b.png", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "minio StatObject failed")
	assert.Contains(t, err.Error(), "AccessDenied: bad key")
	assert.Contains(t, err.Error(), "a/b.png")

	assert.NoError(t, BackendError("minio", "StatObject", "k", nil))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(0), CodeOf(errors.New("plain")))
	assert.Equal(t, "unknown", ErrorCode(0).String())
	assert.Equal(t, "not_found", CodeNotFound.String())
}
