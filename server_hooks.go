package x402

import (
	"context"
	"sync"
	"time"
)

// GateState is a step of the payment challenge protocol
type GateState string

const (
	StateNoPaymentPresented GateState = "NO_PAYMENT_PRESENTED"
	StateChallenged         GateState = "CHALLENGED"
	StateVerifying          GateState = "VERIFYING"
	StateVerified           GateState = "VERIFIED"
	StateExecuting          GateState = "EXECUTING"
	StateSettling           GateState = "SETTLING"
	StateSettled            GateState = "SETTLED"
	StateRejected           GateState = "REJECTED"
)

// Transition is reported to transition hooks on every state change
type Transition struct {
	Resource  string
	State     GateState
	Timestamp time.Time
}

// TransitionHook observes gate state changes. It must not block.
type TransitionHook func(Transition)

// SettledContext is passed to after-settle hooks once a settlement produced
// a transaction
type SettledContext struct {
	Ctx           context.Context
	Resource      string
	PaymentHeader string
	Requirements  PaymentRequirements
	Result        SettleResponse
	// Artifact is the reference recorded by the protected handler, if any
	Artifact string
}

// AfterSettleHook runs after a successful settlement. Errors are logged and
// counted; they never affect the response already sent.
type AfterSettleHook func(SettledContext) error

type artifactKey struct{}

type artifactRecorder struct {
	mu  sync.Mutex
	ref string
}

func (r *artifactRecorder) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref
}

// RecordArtifact stores a reference to what the protected handler delivered,
// such as the URL of a posted tweet. It is a no-op outside a paid request.
func RecordArtifact(ctx context.Context, ref string) {
	r, ok := ctx.Value(artifactKey{}).(*artifactRecorder)
	if !ok {
		return
	}
	r.mu.Lock()
	r.ref = ref
	r.mu.Unlock()
}

func withArtifactRecorder(ctx context.Context) (context.Context, *artifactRecorder) {
	r := &artifactRecorder{}
	return context.WithValue(ctx, artifactKey{}, r), r
}
