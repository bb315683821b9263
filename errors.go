package x402

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAsset means no payment asset (Kudo contract) is configured
	ErrMissingAsset = errors.New("x402: payment asset address not configured")
	// ErrMissingFacilitator means the gate has no facilitator client
	ErrMissingFacilitator = errors.New("x402: facilitator client not configured")
	// ErrMissingPaymentParams means a settle request carried no kudoPaymentParams
	ErrMissingPaymentParams = errors.New("missing kudoPaymentParams")
	// ErrUnsupportedScheme means no settler is registered for the scheme/network
	ErrUnsupportedScheme = errors.New("unsupported scheme or network")
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying cause, if any
	Err error `json:"-"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeInvalidPayment      = "invalid_payment"
	ErrCodePaymentRequired     = "payment_required"
	ErrCodeInvalidHeader       = "invalid_payment_header"
	ErrCodeVerificationFailed  = "verification_failed"
	ErrCodeSettlementFailed    = "settlement_failed"
	ErrCodeProofFailed         = "proof_attachment_failed"
	ErrCodeUnsupportedScheme   = "unsupported_scheme"
	ErrCodeFacilitatorFailure  = "facilitator_unreachable"
	ErrCodeMisconfiguredServer = "misconfigured_server"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

func wrapPaymentError(code string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: err.Error(), Err: err}
}

// FacilitatorError reports a transport-level failure talking to a facilitator.
// A facilitator that answers with an invalid verdict is not an error.
type FacilitatorError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FacilitatorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("facilitator %s failed (%d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("facilitator %s failed: %v", e.Op, e.Err)
}

func (e *FacilitatorError) Unwrap() error {
	return e.Err
}
