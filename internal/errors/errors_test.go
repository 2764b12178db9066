package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	f := errors.New()

	tests := []struct {
		name    string
		err     errors.Error
		code    errors.ErrorCode
		message string
	}{
		{
			name:    "default message",
			err:     f.New(errors.ErrFeedAbsent),
			code:    errors.ErrFeedAbsent,
			message: "Remote document has no value",
		},
		{
			name:    "custom message",
			err:     f.WithMessage(errors.ErrInvalidConfig, "mqtt broker is required"),
			code:    errors.ErrInvalidConfig,
			message: "mqtt broker is required",
		},
		{
			name:    "data",
			err:     f.WithData(errors.ErrInvalidWindow, 12),
			code:    errors.ErrInvalidWindow,
			message: "Invalid history window: 12",
		},
		{
			name:    "wrapped",
			err:     f.Wrap(errors.ErrFeedConnect, stderrors.New("connection refused")),
			code:    errors.ErrFeedConnect,
			message: "Failed to connect to remote feed: connection refused",
		},
		{
			name:    "unknown code",
			err:     f.New(errors.ErrorCode("something_else")),
			code:    errors.ErrorCode("something_else"),
			message: "something_else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code())
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

func TestWithMessageKeepsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := errors.New().Wrap(errors.ErrFeedWrite, cause).WithMessage("publish failed")

	assert.Equal(t, "publish failed: boom", err.Error())
	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("subscribe: %w", errors.New().WithData(errors.ErrFeedAbsent, "settings"))

	assert.True(t, errors.Is(err, errors.New().New(errors.ErrFeedAbsent)))
	assert.False(t, errors.Is(err, errors.New().New(errors.ErrFeedClosed)))
}

func TestHasCodeAndCodeOf(t *testing.T) {
	inner := errors.New().New(errors.ErrTimeout)
	outer := errors.New().Wrap(errors.ErrFeedConnect, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrFeedConnect))
	assert.True(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(outer, errors.ErrFeedAbsent))
	assert.False(t, errors.HasCode(nil, errors.ErrInternal))

	assert.Equal(t, errors.ErrFeedConnect, errors.CodeOf(outer))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(stderrors.New("plain")))

	var coded errors.Error
	require.True(t, errors.As(fmt.Errorf("ctx: %w", outer), &coded))
	assert.Equal(t, errors.ErrFeedConnect, coded.Code())
}
