// Package idempotency guards the facilitator's /settle against replays of
// the same signed covenant.
//
// Settlement in the kudo scheme mints a covenant on chain. Nothing in the
// x402 flow stops a caller from presenting one payment header many times, so
// a facilitator that wants at-most-once minting per signature wraps its core
// with this package:
//
//	core := x402.Newx402Facilitator()
//	core.Register(networks, kudoScheme)
//
//	facilitator := idempotency.Wrap(core,
//	    idempotency.WithTTL(time.Hour),
//	)
//
// Keys are derived from the signed kudoPaymentParams, falling back to the
// raw payment header. A request that arrives while the same key is being
// settled waits for that settlement and returns its result. Failed
// settlements are not cached, so a caller may retry them.
//
// Two stores ship with the package: an in-memory store for single-instance
// deployments and a SQLite store that keeps results across restarts.
package idempotency
