package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// X402Facilitator verifies payment requirements and settles them through
// registered mechanisms
type X402Facilitator struct {
	mu      sync.RWMutex
	schemes map[Network]map[string]SchemeNetworkFacilitator
	logger  *slog.Logger

	// Lifecycle hooks
	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// FacilitatorOption configures the facilitator
type FacilitatorOption func(*X402Facilitator)

// WithFacilitatorLogger sets the logger used for hook errors
func WithFacilitatorLogger(logger *slog.Logger) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.logger = logger
	}
}

func Newx402Facilitator(opts ...FacilitatorOption) *X402Facilitator {
	f := &X402Facilitator{
		schemes: make(map[Network]map[string]SchemeNetworkFacilitator),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register registers a settlement mechanism for the given networks
func (f *X402Facilitator) Register(networks []Network, facilitator SchemeNetworkFacilitator) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, network := range networks {
		if f.schemes[network] == nil {
			f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
		}
		f.schemes[network][facilitator.Scheme()] = facilitator
	}
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *X402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *X402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *X402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods
// ============================================================================

// Verify validates the payment requirements carried by the request.
// It never touches the chain.
func (f *X402Facilitator) Verify(ctx context.Context, req VerifyRequest) VerifyResponse {
	f.mu.RLock()
	before := f.beforeVerifyHooks
	after := f.afterVerifyHooks
	failure := f.onVerifyFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorVerifyContext{Ctx: ctx, Request: req, Timestamp: time.Now()}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return Invalid(err.Error())
		}
		if result != nil && result.Abort {
			return Invalid(result.Reason)
		}
	}

	resp := ValidateRequirements(req.PaymentRequirements)

	resultCtx := FacilitatorVerifyResultContext{
		FacilitatorVerifyContext: hookCtx,
		Result:                   resp,
		Duration:                 time.Since(hookCtx.Timestamp),
	}
	if resp.IsValid {
		for _, hook := range after {
			if err := hook(resultCtx); err != nil {
				f.logger.Warn("after verify hook failed", "error", err)
			}
		}
	} else {
		for _, hook := range failure {
			if err := hook(resultCtx); err != nil {
				f.logger.Warn("verify failure hook failed", "error", err)
			}
		}
	}

	return resp
}

// Settle extracts the signed covenant from the request and hands it to the
// mechanism registered for its scheme and network. Failures are reported in
// the response, never as an error.
func (f *X402Facilitator) Settle(ctx context.Context, req SettleRequest) (resp SettleResponse) {
	f.mu.RLock()
	before := f.beforeSettleHooks
	after := f.afterSettleHooks
	failure := f.onSettleFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorSettleContext{
		Ctx:       ctx,
		Request:   req,
		Params:    req.PaymentRequirements.KudoParams(),
		Timestamp: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			resp = SettlementFailed(fmt.Sprintf("settlement panicked: %v", r))
		}
		resultCtx := FacilitatorSettleResultContext{
			FacilitatorSettleContext: hookCtx,
			Result:                   resp,
			Duration:                 time.Since(hookCtx.Timestamp),
		}
		if resp.Success {
			for _, hook := range after {
				if err := hook(resultCtx); err != nil {
					f.logger.Warn("after settle hook failed", "error", err)
				}
			}
			return
		}
		for _, hook := range failure {
			if err := hook(resultCtx); err != nil {
				f.logger.Warn("settle failure hook failed", "error", err)
			}
		}
	}()

	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return SettlementFailed(err.Error())
		}
		if result != nil && result.Abort {
			return SettlementFailed(result.Reason)
		}
	}

	if hookCtx.Params == nil {
		if err := req.PaymentRequirements.extraError(); err != nil {
			return SettlementFailed(err.Error())
		}
		return SettlementFailed(ErrMissingPaymentParams.Error())
	}

	mechanism := f.findMechanism(req.PaymentRequirements.Scheme, req.PaymentRequirements.Network)
	if mechanism == nil {
		return SettlementFailed(fmt.Sprintf("%s: %s on %s", ErrUnsupportedScheme, req.PaymentRequirements.Scheme, req.PaymentRequirements.Network))
	}

	return mechanism.Settle(ctx, *hookCtx.Params)
}

// GetSupported lists the registered scheme/network pairs and their signers
func (f *X402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	resp := SupportedResponse{
		Kinds:   []SupportedKind{},
		Signers: make(map[string][]string),
	}
	for network, schemes := range f.schemes {
		for scheme, mechanism := range schemes {
			resp.Kinds = append(resp.Kinds, SupportedKind{
				X402Version: X402Version,
				Scheme:      scheme,
				Network:     network,
			})
			resp.Signers[string(network)] = mechanism.GetSigners(network)
		}
	}
	sort.Slice(resp.Kinds, func(i, j int) bool {
		if resp.Kinds[i].Network != resp.Kinds[j].Network {
			return resp.Kinds[i].Network < resp.Kinds[j].Network
		}
		return resp.Kinds[i].Scheme < resp.Kinds[j].Scheme
	})
	return resp
}

func (f *X402Facilitator) findMechanism(scheme string, network Network) SchemeNetworkFacilitator {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return findByNetworkAndScheme(f.schemes, scheme, network)
}
