package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athwifi/voucher-api/internal/pkg/apperr"
	"github.com/athwifi/voucher-api/internal/pkg/response"
)

func TestMapKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperr.Validation("email", "is required"), http.StatusBadRequest, CodeInvalidRequest},
		{"provider", &apperr.ProviderVerificationFailure{Reference: "r", Reason: "abandoned"}, http.StatusPaymentRequired, CodePaymentNotVerified},
		{"stock", &apperr.OutOfStockError{Tier: "QUICK_SURF"}, http.StatusConflict, CodeSoldOut},
		{"store", apperr.Store("claim", errors.New("conn reset")), http.StatusServiceUnavailable, CodeTryAgain},
		{"config", &apperr.ConfigurationError{Setting: "amount", Message: "999 not mapped"}, http.StatusInternalServerError, CodeContactSupport},
		{"unclassified", errors.New("boom"), http.StatusServiceUnavailable, CodeTryAgain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Map(tc.err)
			assert.Equal(t, tc.status, m.Status)
			assert.Equal(t, tc.code, m.Code)
		})
	}
}

func TestHandleErrorWritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(context.Background(), w, &apperr.OutOfStockError{Tier: "POWER_USER"})

	assert.Equal(t, http.StatusConflict, w.Code)
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, CodeSoldOut, body.Error.Code)
}
