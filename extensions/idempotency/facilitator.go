package idempotency

import (
	"context"
	"time"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// IdempotentFacilitator wraps an X402Facilitator so that one signed payment
// settles at most once within the store's retention window.
//
// Verify and GetSupported delegate directly to the wrapped facilitator.
type IdempotentFacilitator struct {
	inner        *x402.X402Facilitator
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Wrap creates an IdempotentFacilitator around facilitator.
//
// Defaults: InMemoryStore with a 10-minute TTL, DefaultKeyGenerator.
func Wrap(facilitator *x402.X402Facilitator, opts ...Option) *IdempotentFacilitator {
	cfg := &config{
		ttl:          10 * time.Minute,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &IdempotentFacilitator{
		inner:        facilitator,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Settle settles a payment unless the same payment already settled.
// A cached success is returned as is; a concurrent duplicate waits for the
// first attempt. Failed settlements are not cached.
func (f *IdempotentFacilitator) Settle(ctx context.Context, req x402.SettleRequest) x402.SettleResponse {
	key := f.keyGenerator(req)

	status, cached, done := f.store.CheckAndMark(key)
	switch status {
	case StatusCached:
		return *cached

	case StatusInFlight:
		result, err := f.store.WaitForResult(ctx, key, done)
		if err != nil {
			return x402.SettlementFailed("settlement interrupted: " + err.Error())
		}
		if result != nil {
			return *result
		}
		// The other attempt failed; try to take ownership.
		return f.Settle(ctx, req)

	case StatusNotFound:
	}

	result := f.inner.Settle(ctx, req)
	if !result.Success {
		f.store.Fail(key, done)
		return result
	}

	f.store.Complete(key, &result, done)
	return result
}

// Verify delegates to the wrapped facilitator.
func (f *IdempotentFacilitator) Verify(ctx context.Context, req x402.VerifyRequest) x402.VerifyResponse {
	return f.inner.Verify(ctx, req)
}

// GetSupported delegates to the wrapped facilitator.
func (f *IdempotentFacilitator) GetSupported() x402.SupportedResponse {
	return f.inner.GetSupported()
}

// Inner returns the wrapped facilitator, for hook and scheme registration.
func (f *IdempotentFacilitator) Inner() *x402.X402Facilitator {
	return f.inner
}

// Register registers a settlement mechanism on the wrapped facilitator.
func (f *IdempotentFacilitator) Register(networks []x402.Network, facilitator x402.SchemeNetworkFacilitator) *IdempotentFacilitator {
	f.inner.Register(networks, facilitator)
	return f
}
