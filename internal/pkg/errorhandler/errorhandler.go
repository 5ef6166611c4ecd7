package errorhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/athwifi/voucher-api/internal/pkg/apperr"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/response"
)

// Public failure codes. Clients branch on these, never on messages.
const (
	CodeInvalidRequest     = "invalid_request"
	CodePaymentNotVerified = "payment_not_verified"
	CodeSoldOut            = "sold_out"
	CodeTryAgain           = "try_again"
	CodeContactSupport     = "contact_support"
)

// Mapping is the client-facing rendering of an error kind.
type Mapping struct {
	Status  int
	Code    string
	Message string
}

// Map classifies err. Unclassified errors are treated as store failures
// so the client is told to retry rather than given internals.
func Map(err error) Mapping {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		msg := "The request is invalid"
		var v *apperr.ValidationError
		if errors.As(err, &v) {
			msg = v.Error()
		}
		return Mapping{http.StatusBadRequest, CodeInvalidRequest, msg}
	case apperr.KindProviderVerification:
		return Mapping{http.StatusPaymentRequired, CodePaymentNotVerified, "Payment could not be verified"}
	case apperr.KindOutOfStock:
		return Mapping{http.StatusConflict, CodeSoldOut, "This plan is sold out. Your payment is recorded and support will follow up"}
	case apperr.KindConfiguration:
		return Mapping{http.StatusInternalServerError, CodeContactSupport, "Something is misconfigured. Please contact support with your payment reference"}
	default:
		return Mapping{http.StatusServiceUnavailable, CodeTryAgain, "Temporary problem, please try again"}
	}
}

// HandleError logs err against the request logger and writes the mapped
// failure envelope.
func HandleError(ctx context.Context, w http.ResponseWriter, err error) {
	m := Map(err)
	event := logger.FromContext(ctx).Warn()
	if m.Status >= http.StatusInternalServerError {
		event = logger.FromContext(ctx).Error()
	}
	event.Err(err).
		Str("error_code", m.Code).
		Str("error_kind", string(apperr.KindOf(err))).
		Int("status_code", m.Status).
		Msg("Request error")

	response.Error(w, m.Status, m.Code, m.Message)
}

// HandlePanicError logs a recovered panic and answers 500.
func HandlePanicError(ctx context.Context, w http.ResponseWriter, panicErr interface{}, stackTrace string) {
	logger.FromContext(ctx).Error().
		Interface("panic_error", panicErr).
		Str("panic_stack", stackTrace).
		Msg("Request panic error")

	response.InternalError(w)
}
