package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		err  *TransportError
		want string
	}{
		{&TransportError{Code: 133}, "transport error: code 133"},
		{&TransportError{Op: "read", Code: 5}, "transport error (read): code 5"},
		{&TransportError{Op: "connect", Code: 8, LinkLost: true}, "transport error (connect): code 8, link lost"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRetriesExhaustedError(t *testing.T) {
	first := &TransportError{Op: "connect", Code: 133}
	err := &RetriesExhaustedError{
		Stage:    "CONNECTING",
		Attempts: 2,
		History:  []error{first, ErrTimedOut},
	}

	assert.True(t, Is(err, ErrRetriesExhausted))
	assert.True(t, Is(err, ErrTimedOut))

	var te *TransportError
	require.True(t, As(err, &te))
	assert.Equal(t, 133, te.Code)

	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "timed out")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", &TransportError{Code: 1}, true},
		{"wrapped transport", fmt.Errorf("failed to read: %w", &TransportError{Code: 1}), true},
		{"timeout", ErrTimedOut, true},
		{"cancelled", ErrCancelled, false},
		{"invalid", InvalidArgument("nil task"), false},
		{"exhausted", &RetriesExhaustedError{History: []error{ErrTimedOut}}, false},
		{"other", New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestInvalidArgument(t *testing.T) {
	err := InvalidArgument("nil %s", "item")
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Equal(t, "invalid argument: nil item", err.Error())
}
