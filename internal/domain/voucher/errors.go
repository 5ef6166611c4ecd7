package voucher

import (
	"errors"

	"github.com/athwifi/voucher-api/internal/pkg/apperr"
)

var ErrVoucherNotFound = errors.New("voucher not found")

// ErrClaimExpired is returned for a reference whose voucher was sold and
// later purged. The reference never claims again.
var ErrClaimExpired error = &apperr.ValidationError{
	Field:   "reference",
	Message: "the voucher bought with this reference has expired",
}
