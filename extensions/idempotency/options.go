package idempotency

import "time"

// config holds the configuration for IdempotentFacilitator.
type config struct {
	ttl          time.Duration
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Option configures an IdempotentFacilitator.
type Option func(*config)

// WithTTL sets how long successful settlements are remembered.
// It only applies to the default in-memory store.
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets the SettlementStore. WithTTL is ignored when a store is
// given; configure the TTL on the store instead.
func WithStore(store SettlementStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator replaces the default key derivation. The key must
// uniquely identify one signed payment.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
