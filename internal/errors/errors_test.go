package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: error wrapping preserves original error
func TestRecallError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with RecallError
	recallErr := New(KindNotFound, ErrCodeNotFound, "file not found: test.txt", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, recallErr)
	assert.Equal(t, originalErr, errors.Unwrap(recallErr))
	assert.True(t, errors.Is(recallErr, originalErr))
}

func TestRecallError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			kind:     KindInvalidInput,
			code:     ErrCodeConfigInvalid,
			message:  "config file invalid",
			expected: "[ERR_101_CONFIG_INVALID] config file invalid",
		},
		{
			name:     "not found error",
			kind:     KindNotFound,
			code:     ErrCodeNotFound,
			message:  "file.go not found",
			expected: "[ERR_201_NOT_FOUND] file.go not found",
		},
		{
			name:     "embedder error",
			kind:     KindEmbedderError,
			code:     ErrCodeEmbedderError,
			message:  "embedder unavailable",
			expected: "[ERR_303_EMBEDDER_ERROR] embedder unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestRecallError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code
	err1 := New(KindNotFound, ErrCodeNotFound, "file A not found", nil)
	err2 := New(KindNotFound, ErrCodeNotFound, "file B not found", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestRecallError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(KindNotFound, ErrCodeNotFound, "file not found", nil)
	err2 := New(KindInvalidInput, ErrCodeConfigInvalid, "config invalid", nil)

	// Then: they don't match
	assert.False(t, errors.Is(err1, err2))
}

func TestRecallError_WithDetail_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(KindNotFound, ErrCodeNotFound, "file not found", nil)

	// When: adding details
	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	// Then: details are available
	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestRecallError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeNotFound, CategoryStore},
		{ErrCodeIOError, CategoryStore},
		{ErrCodeDecodeError, CategoryScanner},
		{ErrCodeEmbedderError, CategoryScanner},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(KindInternal, tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestRecallError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeIndexCorrupt, SeverityFatal},
		{ErrCodeNotFound, SeverityError},
		{ErrCodeCancelled, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(KindInternal, tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestRecallError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeIOError, true},
		{ErrCodeCancelled, true},
		{ErrCodeNotFound, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeIndexCorrupt, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(KindInternal, tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesRecallErrorFromError(t *testing.T) {
	// Given: a standard error
	originalErr := errors.New("something went wrong")

	// When: wrapping with a kind and code
	recallErr := Wrap(KindInternal, ErrCodeInternal, originalErr)

	// Then: creates proper RecallError
	require.NotNil(t, recallErr)
	assert.Equal(t, ErrCodeInternal, recallErr.Code)
	assert.Equal(t, "something went wrong", recallErr.Message)
	assert.Equal(t, originalErr, recallErr.Cause)
}

func TestNotFound_CreatesNotFoundKind(t *testing.T) {
	err := NotFound("path unknown", nil)

	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, CategoryStore, err.Category)
}

func TestIOErr_CreatesRetryableStoreError(t *testing.T) {
	err := IOErr("cannot read file", nil)

	assert.Equal(t, CategoryStore, err.Category)
	assert.True(t, err.Retryable)
}

func TestInvalidInput_CreatesValidationCategoryError(t *testing.T) {
	err := InvalidInput("limit out of range", nil)

	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, KindInvalidInput, err.Kind)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable RecallError",
			err:      IOErr("timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable RecallError",
			err:      NotFound("not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(KindIOError, ErrCodeIOError, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal index corruption",
			err:      New(KindIndexError, ErrCodeIndexCorrupt, "index corrupt", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      NotFound("not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestGetKind_DefaultsToInternalForPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, GetKind(errors.New("plain")))
	assert.Equal(t, KindNotFound, GetKind(NotFound("missing", nil)))
}
