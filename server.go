package x402

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// Rejection and challenge messages returned to callers
const (
	MessageMissingPayment      = "Missing required X-PAYMENT header"
	MessageVerificationFailed  = "Payment verification failed"
	MessageFacilitatorFailure  = "Failed to verify payment with facilitator"
	MessageInvalidHeader       = "Invalid X-PAYMENT header"
	MessageMisconfiguredServer = "Payment requirements unavailable"
)

// ReasonRequirementsChanged prefixes the invalid reason when a payment
// alters the challenge it answers
const ReasonRequirementsChanged = "Payment requirements do not match the issued challenge"

var (
	gateChallengedCounter   = metrics.GetOrRegisterCounter("x402/gate/challenged", nil)
	gateRejectedCounter     = metrics.GetOrRegisterCounter("x402/gate/rejected", nil)
	gateExecutedCounter     = metrics.GetOrRegisterCounter("x402/gate/executed", nil)
	gateSettledCounter      = metrics.GetOrRegisterCounter("x402/gate/settled", nil)
	gateSettleFailedCounter = metrics.GetOrRegisterCounter("x402/gate/settle/failed", nil)
	gateProofFailedCounter  = metrics.GetOrRegisterCounter("x402/gate/proof/failed", nil)
)

// ErrorBody is the JSON body of a 500-class rejection
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// VerificationFailedBody is the JSON body of a 402 after a failed verify
type VerificationFailedBody struct {
	Error   string         `json:"error"`
	Details VerifyResponse `json:"details"`
}

// Rejection ends a request before the protected handler runs
type Rejection struct {
	// State is the state the gate was in when it rejected
	State      GateState
	StatusCode int
	Body       interface{}
	Err        error
}

// ProtectedHandler runs the paid operation. It reports whether the operation
// completed successfully; settlement only follows a successful run.
type ProtectedHandler func(ctx context.Context) bool

// PaymentGate drives one request through challenge, verify, execute and
// settle. It is safe for concurrent use.
type PaymentGate struct {
	mu               sync.RWMutex
	facilitator      FacilitatorClient
	requirements     RequirementsBuilder
	scheduler        Scheduler
	logger           *slog.Logger
	transitionHooks  []TransitionHook
	afterSettleHooks []AfterSettleHook
}

// GateOption configures the payment gate
type GateOption func(*PaymentGate)

// WithFacilitatorClient sets the facilitator used for verify and settle
func WithFacilitatorClient(client FacilitatorClient) GateOption {
	return func(g *PaymentGate) {
		g.facilitator = client
	}
}

// WithRequirements sets the builder for 402 challenges
func WithRequirements(builder RequirementsBuilder) GateOption {
	return func(g *PaymentGate) {
		g.requirements = builder
	}
}

// WithScheduler runs settlement in the background. Without a scheduler,
// settlement runs inline once the handler returns.
func WithScheduler(s Scheduler) GateOption {
	return func(g *PaymentGate) {
		g.scheduler = s
	}
}

// WithGateLogger sets the logger
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *PaymentGate) {
		g.logger = logger
	}
}

// WithTransitionHook registers an observer for state changes
func WithTransitionHook(hook TransitionHook) GateOption {
	return func(g *PaymentGate) {
		g.transitionHooks = append(g.transitionHooks, hook)
	}
}

// NewPaymentGate builds a gate and checks that a challenge can be produced,
// so a missing asset address fails at startup rather than per request.
func NewPaymentGate(opts ...GateOption) (*PaymentGate, error) {
	g := &PaymentGate{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}

	if g.facilitator == nil {
		return nil, ErrMissingFacilitator
	}
	if g.requirements == nil {
		return nil, errors.New("x402: payment requirements not configured")
	}
	if _, err := g.requirements.Requirements("/"); err != nil {
		return nil, fmt.Errorf("invalid payment requirements: %w", err)
	}
	return g, nil
}

// OnAfterSettle registers a hook that runs after a successful settlement
func (g *PaymentGate) OnAfterSettle(hook AfterSettleHook) *PaymentGate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.afterSettleHooks = append(g.afterSettleHooks, hook)
	return g
}

// Challenge builds the 402 body for a resource
func (g *PaymentGate) Challenge(resource string) (PaymentRequired, error) {
	req, err := g.requirements.Requirements(resource)
	if err != nil {
		return PaymentRequired{}, err
	}
	return PaymentRequired{
		X402Version: X402Version,
		Accepts:     []PaymentRequirements{req},
		Error:       MessageMissingPayment,
	}, nil
}

// Run enforces payment around handler. A non-nil Rejection means the handler
// did not run and the caller must write the rejection. A nil result means
// the handler ran; settlement has been scheduled if it succeeded.
func (g *PaymentGate) Run(ctx context.Context, paymentHeader string, resource string, handler ProtectedHandler) *Rejection {
	if paymentHeader == "" {
		g.transition(resource, StateNoPaymentPresented)
		challenge, err := g.Challenge(resource)
		if err != nil {
			g.logger.Error("failed to build payment challenge", "resource", resource, "error", err)
			return g.reject(resource, StateNoPaymentPresented, http.StatusInternalServerError,
				ErrorBody{Error: MessageMisconfiguredServer, Message: err.Error()},
				wrapPaymentError(ErrCodeMisconfiguredServer, err))
		}
		g.transition(resource, StateChallenged)
		gateChallengedCounter.Inc(1)
		return g.reject(resource, StateChallenged, http.StatusPaymentRequired, challenge,
			NewPaymentError(ErrCodePaymentRequired, MessageMissingPayment, map[string]interface{}{"resource": resource}))
	}

	doc, err := DecodePaymentHeader(paymentHeader)
	if err != nil {
		return g.reject(resource, StateNoPaymentPresented, http.StatusInternalServerError,
			ErrorBody{Error: MessageInvalidHeader, Message: err.Error()},
			wrapPaymentError(ErrCodeInvalidHeader, err))
	}

	issued, err := g.requirements.Requirements(resource)
	if err != nil {
		g.logger.Error("failed to build payment challenge", "resource", resource, "error", err)
		return g.reject(resource, StateNoPaymentPresented, http.StatusInternalServerError,
			ErrorBody{Error: MessageMisconfiguredServer, Message: err.Error()},
			wrapPaymentError(ErrCodeMisconfiguredServer, err))
	}

	g.transition(resource, StateVerifying)
	if field := changedField(issued, doc); field != "" {
		g.logger.Warn("payment does not match the issued challenge", "resource", resource, "field", field)
		code := ErrCodeInvalidPayment
		if field == "scheme" || field == "network" {
			code = ErrCodeUnsupportedScheme
		}
		return g.reject(resource, StateVerifying, http.StatusPaymentRequired,
			VerificationFailedBody{Error: MessageVerificationFailed, Details: Invalid(ReasonRequirementsChanged + ": " + field)},
			NewPaymentError(code, ReasonRequirementsChanged, map[string]interface{}{"field": field}))
	}

	verify, err := g.facilitator.Verify(ctx, VerifyRequest{
		X402Version:         X402Version,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: doc,
	})
	if err != nil {
		g.logger.Error("facilitator verify failed", "resource", resource, "error", err)
		return g.reject(resource, StateVerifying, http.StatusInternalServerError,
			ErrorBody{Error: MessageFacilitatorFailure, Message: err.Error()},
			wrapPaymentError(ErrCodeFacilitatorFailure, err))
	}
	if !verify.IsValid {
		return g.reject(resource, StateVerifying, http.StatusPaymentRequired,
			VerificationFailedBody{Error: MessageVerificationFailed, Details: *verify},
			NewPaymentError(ErrCodeVerificationFailed, verify.Reason(), nil))
	}
	g.transition(resource, StateVerified)
	g.logger.Info("payment verified", "resource", resource, "scheme", doc.Scheme, "network", doc.Network)

	g.transition(resource, StateExecuting)
	handlerCtx, artifact := withArtifactRecorder(ctx)
	if !handler(handlerCtx) {
		g.logger.Info("protected handler did not succeed, skipping settlement", "resource", resource)
		return nil
	}
	gateExecutedCounter.Inc(1)

	paid := paidRequest{
		resource: resource,
		header:   paymentHeader,
		doc:      doc,
		artifact: artifact.get(),
	}
	g.scheduleSettlement(ctx, paid)
	return nil
}

// changedField names the first challenge field the payer altered, or ""
// when the echoed document matches. Extra is excluded since the payer adds
// its signed covenant there.
func changedField(issued, echoed PaymentRequirements) string {
	switch {
	case issued.Scheme != echoed.Scheme:
		return "scheme"
	case issued.Network != echoed.Network:
		return "network"
	case !strings.EqualFold(issued.Asset, echoed.Asset):
		return "asset"
	case !strings.EqualFold(issued.PayTo, echoed.PayTo):
		return "payTo"
	case issued.MaxAmountRequired != echoed.MaxAmountRequired:
		return "maxAmountRequired"
	case issued.Resource != echoed.Resource:
		return "resource"
	case issued.Description != echoed.Description:
		return "description"
	case issued.MimeType != echoed.MimeType:
		return "mimeType"
	case issued.MaxTimeoutSeconds != echoed.MaxTimeoutSeconds:
		return "maxTimeoutSeconds"
	}
	return ""
}

type paidRequest struct {
	resource string
	header   string
	doc      PaymentRequirements
	artifact string
}

func (g *PaymentGate) scheduleSettlement(ctx context.Context, paid paidRequest) {
	task := func(taskCtx context.Context) error {
		return g.settle(taskCtx, paid)
	}

	if g.scheduler != nil {
		err := g.scheduler.Schedule("settle "+paid.resource, task)
		if err == nil {
			return
		}
		g.logger.Warn("settlement queue unavailable, settling inline", "resource", paid.resource, "error", err)
	}

	if err := task(context.WithoutCancel(ctx)); err != nil {
		g.logger.Error("settlement failed", "resource", paid.resource, "error", err)
	}
}

// settle calls the facilitator once and then runs after-settle hooks
func (g *PaymentGate) settle(ctx context.Context, paid paidRequest) error {
	g.transition(paid.resource, StateSettling)

	result, err := g.facilitator.Settle(ctx, SettleRequest{
		X402Version:         X402Version,
		PaymentHeader:       paid.header,
		PaymentRequirements: paid.doc,
	})
	if err != nil {
		gateSettleFailedCounter.Inc(1)
		g.transition(paid.resource, StateRejected)
		return fmt.Errorf("settle %s: %w", paid.resource, err)
	}
	if !result.Success {
		gateSettleFailedCounter.Inc(1)
		g.transition(paid.resource, StateRejected)
		return NewPaymentError(ErrCodeSettlementFailed, result.ErrorMessage(), map[string]interface{}{
			"resource": paid.resource,
		})
	}

	gateSettledCounter.Inc(1)
	g.transition(paid.resource, StateSettled)
	g.logger.Info("payment settled",
		"resource", paid.resource,
		"txHash", result.Transaction(),
		"artifact", paid.artifact,
	)

	if result.TxHash == nil {
		return nil
	}

	g.mu.RLock()
	hooks := g.afterSettleHooks
	g.mu.RUnlock()

	settled := SettledContext{
		Ctx:           ctx,
		Resource:      paid.resource,
		PaymentHeader: paid.header,
		Requirements:  paid.doc,
		Result:        *result,
		Artifact:      paid.artifact,
	}
	for _, hook := range hooks {
		if err := hook(settled); err != nil {
			gateProofFailedCounter.Inc(1)
			g.logger.Warn("after-settle hook failed",
				"resource", paid.resource,
				"txHash", result.Transaction(),
				"error", err,
			)
		}
	}
	return nil
}

func (g *PaymentGate) reject(resource string, state GateState, status int, body interface{}, err error) *Rejection {
	gateRejectedCounter.Inc(1)
	g.transition(resource, StateRejected)
	return &Rejection{State: state, StatusCode: status, Body: body, Err: err}
}

func (g *PaymentGate) transition(resource string, state GateState) {
	if len(g.transitionHooks) == 0 {
		return
	}
	t := Transition{Resource: resource, State: state, Timestamp: time.Now()}
	for _, hook := range g.transitionHooks {
		hook(t)
	}
}
