package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeGatewayUnavailable, http.StatusServiceUnavailable},
		{ErrCodeGatewayRejected, http.StatusBadGateway},
		{ErrCodePreconditionFailed, http.StatusUnprocessableEntity},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeIntegrityViolation, http.StatusConflict},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrCodeGatewayUnavailable))
	assert.True(t, IsRetryable(ErrCodeConcurrencyConflict))
	assert.False(t, IsRetryable(ErrCodeGatewayRejected))
	assert.False(t, IsRetryable(ErrCodePreconditionFailed))
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeGatewayUnavailable, "gateway timed out", "req-1")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGatewayUnavailable, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "req-1", resp.Error.RequestID)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
	assert.Contains(t, string(raw), `"request_id":"req-1"`)
}

func TestWebhookAck_FieldOrder(t *testing.T) {
	raw, err := json.Marshal(WebhookAck{Code: "0000", Msg: "success"})
	require.NoError(t, err)
	assert.Equal(t, `{"code":"0000","msg":"success"}`, string(raw))
}
