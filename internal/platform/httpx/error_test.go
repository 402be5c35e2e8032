package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("rate_limited", "too\nmany requests", http.StatusTooManyRequests).
		WithRequestID("req-1").
		WithDetails(map[string]any{"scope": "redemptions", "error": "overridden"}).
		WithRetryAfter(1500 * time.Millisecond)

	WriteError(context.Background(), rec, err)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, "too many requests", body["message"])
	assert.EqualValues(t, 429, body["status"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "redemptions", body["scope"])
	assert.NotContains(t, body, "trace_id")
}

func TestNewErrorDefaultsAndClipping(t *testing.T) {
	err := NewError(strings.Repeat("c", 200), "", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Len(t, err.Code, maxCodeLen)
	assert.Equal(t, err.Code, err.Error())

	wrapped := fmt.Errorf("redeem: %w", NewError("insufficient_balance", "short", http.StatusConflict))
	var target Error
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, http.StatusConflict, target.Status)
}

func TestFromDomainError(t *testing.T) {
	e, ok := FromDomainError(&domain.InsufficientBalanceError{AvailableCents: 40, RequestedCents: 100})
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, e.Status)
	assert.Equal(t, "insufficient_balance", e.Code)
	assert.EqualValues(t, 40, e.Details["available_cents"])

	e, ok = FromDomainError(fmt.Errorf("grant: %w", domain.NewValidationError("amountCents", "must be positive")))
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, "amountCents", e.Details["field"])

	_, ok = FromDomainError(fmt.Errorf("boom"))
	assert.False(t, ok)
}
