// Package apperr defines the failure kinds shared by the storefront.
// Every request-boundary error is classified into one of them so handlers
// can tell "sold out" apart from "try again" and "contact support".
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the request boundary.
type Kind string

const (
	KindUnknown              Kind = "unknown"
	KindValidation           Kind = "validation"
	KindProviderVerification Kind = "provider_verification"
	KindOutOfStock           Kind = "out_of_stock"
	KindStoreTransaction     Kind = "store_transaction"
	KindConfiguration        Kind = "configuration"
)

// ValidationError is missing or malformed client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// ProviderVerificationFailure means the payment provider did not confirm
// the transaction. Nothing has been mutated.
type ProviderVerificationFailure struct {
	Reference string
	Reason    string
	Err       error
}

func (e *ProviderVerificationFailure) Error() string {
	msg := fmt.Sprintf("payment %q not verified: %s", e.Reference, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderVerificationFailure) Unwrap() error { return e.Err }

// OutOfStockError is the legitimate capacity state where no unconsumed
// credential of the tier is left.
type OutOfStockError struct {
	Tier string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("no vouchers left for tier %s", e.Tier)
}

// StoreTransactionFailure wraps a store error that aborted a transaction.
// Retrying from the client is safe.
type StoreTransactionFailure struct {
	Op  string
	Err error
}

func (e *StoreTransactionFailure) Error() string {
	return fmt.Sprintf("store transaction failed: %s: %v", e.Op, e.Err)
}

func (e *StoreTransactionFailure) Unwrap() error { return e.Err }

// ConfigurationError is a missing secret or mapping. It is never retried
// and never replaced by a default.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
}

// Validation is a shorthand constructor.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Store wraps err as a StoreTransactionFailure unless it already carries
// a more specific kind.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &StoreTransactionFailure{Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var (
		validation *ValidationError
		provider   *ProviderVerificationFailure
		stock      *OutOfStockError
		store      *StoreTransactionFailure
		cfg        *ConfigurationError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &provider):
		return KindProviderVerification
	case errors.As(err, &stock):
		return KindOutOfStock
	case errors.As(err, &cfg):
		return KindConfiguration
	case errors.As(err, &store):
		return KindStoreTransaction
	}
	return KindUnknown
}
