package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripeErrorBodyTypes(t *testing.T) {
	cases := []struct {
		err      *AppError
		expected ErrorType
	}{
		{NewMediaNotFound(ErrorCodeVideoNotFound, "Id couldn't be found"), ErrorTypeInvalidRequest},
		{NewNotFoundError(ErrorCodeAuditLogNotFound, "Audit log not found", nil), ErrorTypeInvalidRequest},
		{NewUnauthorizedError("Missing Authorization header"), ErrorTypeAuthError},
		{NewServiceUnavailableError("Media service unavailable"), ErrorTypeAPIError},
		{NewInternalError("boom"), ErrorTypeAPIError},
	}

	for _, tc := range cases {
		body := tc.err.StripeErrorBody()
		require.Equal(t, tc.expected, body.Type, tc.err.Message)
		require.Equal(t, string(tc.err.Code), body.Code)
		require.Equal(t, tc.err.Message, body.Message)
	}
}

func TestEnsureAppError(t *testing.T) {
	appErr := NewMediaNotFound(ErrorCodeNoResults, "No videos found")
	require.Same(t, appErr, EnsureAppError(appErr))

	wrapped := EnsureAppError(errors.New("database locked"))
	require.Equal(t, 500, wrapped.StatusCode)
	require.Equal(t, "Internal server error", wrapped.Message)

	require.Equal(t, "Unknown error", EnsureAppError(nil).Message)
}

func TestErrorCodesAreDistinct(t *testing.T) {
	codes := []ErrorCode{
		ErrorCodeInternalError,
		ErrorCodeValidationError,
		ErrorCodeUnauthorized,
		ErrorCodeVideoNotFound,
		ErrorCodeNoResults,
		ErrorCodeMediaUnavailable,
		ErrorCodeAuditLogNotFound,
		ErrorCodeAuthTokenExpired,
		ErrorCodeAuthTokenInvalid,
	}
	seen := map[ErrorCode]bool{}
	for _, code := range codes {
		require.False(t, seen[code], code)
		seen[code] = true
	}
	require.Equal(t, 503, NewServiceUnavailableError("x").StatusCode)
}
