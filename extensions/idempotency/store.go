package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// SettlementStatus represents the result of checking the store.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight request.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another request is currently settling this key.
	StatusInFlight
)

// SettlementStore defines the storage behind the replay guard.
// Implementations must be safe for concurrent use.
type SettlementStore interface {
	// CheckAndMark atomically checks the store and marks the key as in-flight if needed.
	//
	// Returns:
	//   - StatusCached + result + nil: a cached result exists
	//   - StatusInFlight + nil + done: another request is settling, wait on done
	//   - StatusNotFound + nil + done: this request owns the key now
	//
	// done must be passed to Complete or Fail when the owner finishes.
	CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{})

	// WaitForResult waits for an in-flight settlement. A nil result means
	// the owner failed and the caller should retry.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error)

	// Complete caches response and wakes waiters.
	Complete(key string, response *x402.SettleResponse, done chan struct{})

	// Fail clears the in-flight marker without caching and wakes waiters.
	Fail(key string, done chan struct{})
}

// KeyGenerator derives the deduplication key of a settle request.
type KeyGenerator func(req x402.SettleRequest) string

// DefaultKeyGenerator hashes the signed covenant parameters. Two requests
// carrying the same signature over the same covenant share a key even when
// the rest of the document differs. Requests without kudoPaymentParams are
// keyed by their payment header.
func DefaultKeyGenerator(req x402.SettleRequest) string {
	var material []byte
	if params := req.PaymentRequirements.KudoParams(); params != nil {
		material, _ = json.Marshal(params)
	} else {
		material = []byte(req.PaymentHeader)
	}
	hash := sha256.Sum256(material)
	return hex.EncodeToString(hash[:])
}
