package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusUnauthorized, ErrorTypeAuthRequired},
		{http.StatusForbidden, ErrorTypeAuthRequired},
		{http.StatusNotFound, ErrorTypeNotFound},
		{http.StatusRequestTimeout, ErrorTypeTransient},
		{http.StatusTooManyRequests, ErrorTypeTransient},
		{http.StatusInternalServerError, ErrorTypeTransient},
		{http.StatusBadGateway, ErrorTypeTransient},
		{http.StatusBadRequest, ErrorTypePermanent},
		{http.StatusGone, ErrorTypePermanent},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus("test.op", tt.status)
			assert.Equal(t, tt.want, err.Type)
			assert.True(t, IsType(err, tt.want))
		})
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(ErrorTypeTransient, "download.transfer", cause)

	assert.True(t, errors.Is(err, cause))

	var re *Error
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &re))
	assert.Equal(t, ErrorTypeTransient, re.Type)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Newf(ErrorTypeTransient, "op", "timeout")))
	assert.False(t, Retryable(Newf(ErrorTypePermanent, "op", "bad request")))
	assert.False(t, Retryable(Newf(ErrorTypeCancelled, "op", "ctx done")))
	assert.False(t, Retryable(errors.New("untyped")))
}

func TestErrorString(t *testing.T) {
	err := Newf(ErrorTypeNotFound, "catalog.search", "no hits for %q", "ae.safetensors")
	assert.Equal(t, `not_found: catalog.search: no hits for "ae.safetensors"`, err.Error())

	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}
