package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{Unauthorized(nil), http.StatusUnauthorized},
		{Forbidden("", nil), http.StatusForbidden},
		{NotFound("patient", nil), http.StatusNotFound},
		{BadRequest("bad", nil), http.StatusBadRequest},
		{Unavailable("down", nil), http.StatusServiceUnavailable},
		{Internal(fmt.Errorf("boom")), http.StatusInternalServerError},
		{TooManyRequests(), http.StatusTooManyRequests},
		{NewAppError(ErrTooLarge, "big", nil), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.StatusCode(), string(tt.err.Code))
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("failed to check access: %w", Forbidden("missing delete permission", nil))

	assert.True(t, IsForbidden(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
}

func TestForbidden_DefaultMessage(t *testing.T) {
	assert.Equal(t, "permission denied", Forbidden("", nil).Message)
}

func TestError_IncludesCause(t *testing.T) {
	err := NotFound("patient", ErrRecordNotFound)

	assert.Equal(t, "patient not found: record not found", err.Error())
	assert.True(t, Is(err, ErrRecordNotFound))
}
