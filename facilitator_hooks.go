package x402

import (
	"context"
	"time"
)

// ============================================================================
// Facilitator Hook Context Types
// ============================================================================

// FacilitatorVerifyContext contains information passed to facilitator verify hooks
type FacilitatorVerifyContext struct {
	Ctx       context.Context
	Request   VerifyRequest
	Timestamp time.Time
}

// FacilitatorVerifyResultContext contains facilitator verify result and context
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// FacilitatorSettleContext contains information passed to facilitator settle hooks
type FacilitatorSettleContext struct {
	Ctx       context.Context
	Request   SettleRequest
	Params    *KudoPaymentParams
	Timestamp time.Time
}

// FacilitatorSettleResultContext contains facilitator settle result and context
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result   SettleResponse
	Duration time.Duration
}

// ============================================================================
// Facilitator Hook Result Types
// ============================================================================

// FacilitatorBeforeHookResult represents the result of a facilitator "before" hook
// If Abort is true, the operation will be aborted with the given Reason
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Facilitator Hook Function Types
// ============================================================================

// FacilitatorBeforeVerifyHook is called before validation.
// Abort=true returns an invalid response with the provided reason.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterVerifyHook is called after a valid verification.
// Any error returned is logged and does not affect the result.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook is called after an invalid verification
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyResultContext) error

// FacilitatorBeforeSettleHook is called before settlement.
// Abort=true returns a failed settlement with the provided reason.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook is called after a successful settlement
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook is called after a failed settlement
type FacilitatorOnSettleFailureHook func(FacilitatorSettleResultContext) error
