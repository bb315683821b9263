package x402

import (
	"context"
)

// SchemeNetworkFacilitator is implemented by facilitator-side settlement
// mechanisms. Settle must report every failure in the returned response.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// GetSigners returns the wallet addresses that send settlement
	// transactions on the given network
	GetSigners(network Network) []string

	Settle(ctx context.Context, params KudoPaymentParams) SettleResponse
}

// FacilitatorClient talks to a facilitator service. An error means the
// facilitator could not be reached or answered garbage; an invalid verdict
// or a failed settlement is a normal response.
type FacilitatorClient interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error)
	Settle(ctx context.Context, req SettleRequest) (*SettleResponse, error)
}

// Scheduler runs work after the response has been written. Implementations
// own error reporting for the tasks they run.
type Scheduler interface {
	Schedule(name string, task func(ctx context.Context) error) error
}

// RequirementsBuilder produces the payment requirements for a resource
type RequirementsBuilder interface {
	Requirements(resource string) (PaymentRequirements, error)
}
