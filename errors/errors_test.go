package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Writer", "Ingest", "publish reading")

	require.Error(t, err)
	assert.Equal(t, "Writer.Ingest: publish reading failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "C", "M", "a"))
	assert.NoError(t, WrapTransient(nil, "C", "M", "a"))
	assert.NoError(t, WrapInvalid(nil, "C", "M", "a"))
	assert.NoError(t, WrapFatal(nil, "C", "M", "a"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"transient", WrapTransient(base, "Bus", "Publish", "send"), ErrorTransient},
		{"invalid", WrapInvalid(base, "Codec", "Decode", "parse"), ErrorInvalid},
		{"fatal", WrapFatal(base, "Loop", "Start", "check state"), ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *ClassifiedError
			require.ErrorAs(t, tt.err, &ce)
			assert.Equal(t, tt.class, ce.Class)
			assert.True(t, stderrors.Is(tt.err, base))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionTimeout))
	assert.True(t, IsTransient(ErrStorageUnavailable))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, IsTransient(WrapTransient(stderrors.New("x"), "C", "M", "a")))
	assert.False(t, IsTransient(WrapInvalid(stderrors.New("x"), "C", "M", "a")))
	assert.False(t, IsTransient(nil))
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrDecodeFailed))
	assert.True(t, IsInvalid(ErrMissingField))
	assert.True(t, IsInvalid(WrapInvalid(stderrors.New("x"), "C", "M", "a")))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidData))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
}

func TestClassifiedErrorSurvivesRewrapping(t *testing.T) {
	inner := WrapInvalid(stderrors.New("bad payload"), "Codec", "Decode", "parse")
	outer := fmt.Errorf("stage failed: %w", inner)

	assert.True(t, IsInvalid(outer))
	assert.Equal(t, ErrorInvalid, Classify(outer))
}
