package x402

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
)

type fakeFacilitator struct {
	mu         sync.Mutex
	verify     func(VerifyRequest) (*VerifyResponse, error)
	settle     func(SettleRequest) (*SettleResponse, error)
	verifies   int
	settles    int
	lastSettle SettleRequest
}

func (f *fakeFacilitator) Verify(_ context.Context, req VerifyRequest) (*VerifyResponse, error) {
	f.mu.Lock()
	f.verifies++
	f.mu.Unlock()
	if f.verify != nil {
		return f.verify(req)
	}
	resp := ValidateRequirements(req.PaymentRequirements)
	return &resp, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, req SettleRequest) (*SettleResponse, error) {
	f.mu.Lock()
	f.settles++
	f.lastSettle = req
	f.mu.Unlock()
	if f.settle != nil {
		return f.settle(req)
	}
	resp := Settled("0xfeed", "84532")
	return &resp, nil
}

type staticRequirements struct {
	err error
}

func (s staticRequirements) Requirements(resource string) (PaymentRequirements, error) {
	if s.err != nil {
		return PaymentRequirements{}, s.err
	}
	req := testRequirements()
	req.Resource = resource
	return req, nil
}

type recordingScheduler struct {
	names []string
	tasks []func(context.Context) error
	err   error
}

func (s *recordingScheduler) Schedule(name string, task func(context.Context) error) error {
	if s.err != nil {
		return s.err
	}
	s.names = append(s.names, name)
	s.tasks = append(s.tasks, task)
	return nil
}

func newTestGate(t *testing.T, f FacilitatorClient, opts ...GateOption) (*PaymentGate, *[]GateState) {
	t.Helper()
	var mu sync.Mutex
	states := []GateState{}
	opts = append([]GateOption{
		WithFacilitatorClient(f),
		WithRequirements(staticRequirements{}),
		WithTransitionHook(func(tr Transition) {
			mu.Lock()
			states = append(states, tr.State)
			mu.Unlock()
		}),
	}, opts...)
	gate, err := NewPaymentGate(opts...)
	if err != nil {
		t.Fatalf("NewPaymentGate: %v", err)
	}
	return gate, &states
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	return paymentHeaderFor(t, "/post_tweet")
}

func paymentHeaderFor(t *testing.T, resource string) string {
	t.Helper()
	req := signedRequirements()
	req.Resource = resource
	header, err := EncodePaymentHeader(req)
	if err != nil {
		t.Fatal(err)
	}
	return header
}

func paymentErrorCode(t *testing.T, err error) string {
	t.Helper()
	var perr *PaymentError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PaymentError", err)
	}
	return perr.Code
}

func assertStates(t *testing.T, got []GateState, want ...GateState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestNewPaymentGate_Validation(t *testing.T) {
	if _, err := NewPaymentGate(WithRequirements(staticRequirements{})); !errors.Is(err, ErrMissingFacilitator) {
		t.Errorf("err = %v, want ErrMissingFacilitator", err)
	}
	_, err := NewPaymentGate(
		WithFacilitatorClient(&fakeFacilitator{}),
		WithRequirements(staticRequirements{err: ErrMissingAsset}),
	)
	if !errors.Is(err, ErrMissingAsset) {
		t.Errorf("err = %v, want ErrMissingAsset", err)
	}
}

func TestPaymentGate_Challenge(t *testing.T) {
	f := &fakeFacilitator{}
	gate, states := newTestGate(t, f)

	ran := false
	rej := gate.Run(context.Background(), "", "/post_tweet", func(context.Context) bool {
		ran = true
		return true
	})
	if rej == nil || rej.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("rejection = %+v", rej)
	}
	if ran {
		t.Error("handler ran without payment")
	}

	body, ok := rej.Body.(PaymentRequired)
	if !ok {
		t.Fatalf("body is %T", rej.Body)
	}
	if body.X402Version != 1 || body.Error != MessageMissingPayment || len(body.Accepts) != 1 {
		t.Errorf("challenge = %+v", body)
	}
	if body.Accepts[0].Resource != "/post_tweet" {
		t.Errorf("resource = %q", body.Accepts[0].Resource)
	}
	if f.verifies != 0 {
		t.Error("facilitator contacted without payment")
	}
	if code := paymentErrorCode(t, rej.Err); code != ErrCodePaymentRequired {
		t.Errorf("code = %q", code)
	}
	assertStates(t, *states, StateNoPaymentPresented, StateChallenged, StateRejected)
}

func TestPaymentGate_InvalidHeader(t *testing.T) {
	f := &fakeFacilitator{}
	gate, _ := newTestGate(t, f)

	rej := gate.Run(context.Background(), "not-a-payment", "/post_tweet", func(context.Context) bool { return true })
	if rej == nil || rej.StatusCode != http.StatusInternalServerError {
		t.Fatalf("rejection = %+v", rej)
	}
	if body := rej.Body.(ErrorBody); body.Error != MessageInvalidHeader {
		t.Errorf("body = %+v", body)
	}
	if f.verifies != 0 {
		t.Error("garbage header reached the facilitator")
	}
	if code := paymentErrorCode(t, rej.Err); code != ErrCodeInvalidHeader {
		t.Errorf("code = %q", code)
	}
}

func TestPaymentGate_VerificationFailed(t *testing.T) {
	f := &fakeFacilitator{verify: func(VerifyRequest) (*VerifyResponse, error) {
		resp := Invalid(ReasonInvalidPayTo)
		return &resp, nil
	}}
	gate, states := newTestGate(t, f)

	ran := false
	rej := gate.Run(context.Background(), paymentHeader(t), "/post_tweet", func(context.Context) bool {
		ran = true
		return true
	})
	if rej == nil || rej.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("rejection = %+v", rej)
	}
	body := rej.Body.(VerificationFailedBody)
	if body.Error != MessageVerificationFailed || body.Details.Reason() != ReasonInvalidPayTo {
		t.Errorf("body = %+v", body)
	}
	if ran || f.settles != 0 {
		t.Error("invalid payment must not execute or settle")
	}
	if code := paymentErrorCode(t, rej.Err); code != ErrCodeVerificationFailed {
		t.Errorf("code = %q", code)
	}
	assertStates(t, *states, StateVerifying, StateRejected)
}

func TestPaymentGate_RejectsAlteredRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PaymentRequirements)
		field  string
		code   string
	}{
		{"lower price", func(r *PaymentRequirements) { r.MaxAmountRequired = "0" }, "maxAmountRequired", ErrCodeInvalidPayment},
		{"other payee", func(r *PaymentRequirements) { r.PayTo = "0x5555555555555555555555555555555555555555" }, "payTo", ErrCodeInvalidPayment},
		{"other resource", func(r *PaymentRequirements) { r.Resource = "/some/other/resource" }, "resource", ErrCodeInvalidPayment},
		{"other asset", func(r *PaymentRequirements) { r.Asset = testAgent }, "asset", ErrCodeInvalidPayment},
		{"longer timeout", func(r *PaymentRequirements) { r.MaxTimeoutSeconds = 3600 }, "maxTimeoutSeconds", ErrCodeInvalidPayment},
		{"description", func(r *PaymentRequirements) { r.Description = "free" }, "description", ErrCodeInvalidPayment},
		{"mime type", func(r *PaymentRequirements) { r.MimeType = "text/plain" }, "mimeType", ErrCodeInvalidPayment},
		{"other network", func(r *PaymentRequirements) { r.Network = "base" }, "network", ErrCodeUnsupportedScheme},
		{"other scheme", func(r *PaymentRequirements) { r.Scheme = "exact" }, "scheme", ErrCodeUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFacilitator{}
			gate, states := newTestGate(t, f)

			req := signedRequirements()
			tt.mutate(&req)
			header, err := EncodePaymentHeader(req)
			if err != nil {
				t.Fatal(err)
			}

			ran := false
			rej := gate.Run(context.Background(), header, "/post_tweet", func(context.Context) bool {
				ran = true
				return true
			})
			if rej == nil || rej.StatusCode != http.StatusPaymentRequired {
				t.Fatalf("rejection = %+v", rej)
			}
			body, ok := rej.Body.(VerificationFailedBody)
			if !ok {
				t.Fatalf("body is %T", rej.Body)
			}
			if want := ReasonRequirementsChanged + ": " + tt.field; body.Details.Reason() != want {
				t.Errorf("reason = %q, want %q", body.Details.Reason(), want)
			}
			if code := paymentErrorCode(t, rej.Err); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
			if ran || f.verifies != 0 || f.settles != 0 {
				t.Errorf("altered payment reached handler=%v verifies=%d settles=%d", ran, f.verifies, f.settles)
			}
			assertStates(t, *states, StateVerifying, StateRejected)
		})
	}
}

func TestPaymentGate_AddressCaseIsNotAChange(t *testing.T) {
	f := &fakeFacilitator{verify: func(VerifyRequest) (*VerifyResponse, error) {
		resp := Valid()
		return &resp, nil
	}}
	gate, _ := newTestGate(t, f)

	req := signedRequirements()
	req.PayTo = strings.ToLower(req.PayTo)
	header, err := EncodePaymentHeader(req)
	if err != nil {
		t.Fatal(err)
	}
	if rej := gate.Run(context.Background(), header, "/post_tweet", func(context.Context) bool { return true }); rej != nil {
		t.Fatalf("unexpected rejection %+v", rej)
	}
	if f.settles != 1 {
		t.Errorf("settles = %d", f.settles)
	}
}

func TestPaymentGate_FacilitatorUnreachable(t *testing.T) {
	f := &fakeFacilitator{verify: func(VerifyRequest) (*VerifyResponse, error) {
		return nil, &FacilitatorError{Op: "verify", Err: errors.New("connection refused")}
	}}
	gate, _ := newTestGate(t, f)

	rej := gate.Run(context.Background(), paymentHeader(t), "/post_tweet", func(context.Context) bool { return true })
	if rej == nil || rej.StatusCode != http.StatusInternalServerError {
		t.Fatalf("rejection = %+v", rej)
	}
	if body := rej.Body.(ErrorBody); body.Error != MessageFacilitatorFailure {
		t.Errorf("body = %+v", body)
	}
	var ferr *FacilitatorError
	if !errors.As(rej.Err, &ferr) {
		t.Errorf("err = %v", rej.Err)
	}
	if code := paymentErrorCode(t, rej.Err); code != ErrCodeFacilitatorFailure {
		t.Errorf("code = %q", code)
	}
}

func TestPaymentGate_HandlerFailureSkipsSettlement(t *testing.T) {
	f := &fakeFacilitator{}
	gate, states := newTestGate(t, f)

	if rej := gate.Run(context.Background(), paymentHeader(t), "/post_tweet", func(context.Context) bool { return false }); rej != nil {
		t.Fatalf("unexpected rejection %+v", rej)
	}
	if f.settles != 0 {
		t.Error("settled after a failed handler")
	}
	assertStates(t, *states, StateVerifying, StateVerified, StateExecuting)
}

func TestPaymentGate_SettlesAfterDelivery(t *testing.T) {
	f := &fakeFacilitator{}
	sched := &recordingScheduler{}
	gate, states := newTestGate(t, f, WithScheduler(sched))

	var settled []SettledContext
	gate.OnAfterSettle(func(sc SettledContext) error {
		settled = append(settled, sc)
		return nil
	})

	header := paymentHeader(t)
	rej := gate.Run(context.Background(), header, "/post_tweet", func(ctx context.Context) bool {
		if f.settles != 0 {
			t.Error("settlement started before delivery")
		}
		RecordArtifact(ctx, "https://x.com/i/status/42")
		return true
	})
	if rej != nil {
		t.Fatalf("unexpected rejection %+v", rej)
	}
	if len(sched.tasks) != 1 || sched.names[0] != "settle /post_tweet" {
		t.Fatalf("scheduled = %v", sched.names)
	}
	if f.settles != 0 {
		t.Fatal("settlement ran before the scheduler")
	}

	if err := sched.tasks[0](context.Background()); err != nil {
		t.Fatalf("settle task: %v", err)
	}
	if f.settles != 1 {
		t.Errorf("settles = %d", f.settles)
	}
	if f.lastSettle.PaymentHeader != header || f.lastSettle.PaymentRequirements.KudoParams() == nil {
		t.Errorf("settle request = %+v", f.lastSettle)
	}
	if len(settled) != 1 {
		t.Fatalf("after-settle hooks ran %d times", len(settled))
	}
	if settled[0].Artifact != "https://x.com/i/status/42" || settled[0].Result.Transaction() != "0xfeed" {
		t.Errorf("settled context = %+v", settled[0])
	}
	assertStates(t, *states, StateVerifying, StateVerified, StateExecuting, StateSettling, StateSettled)
}

func TestPaymentGate_SchedulerUnavailableSettlesInline(t *testing.T) {
	f := &fakeFacilitator{}
	gate, _ := newTestGate(t, f, WithScheduler(&recordingScheduler{err: errors.New("queue full")}))

	if rej := gate.Run(context.Background(), paymentHeaderFor(t, "/search_tweets"), "/search_tweets", func(context.Context) bool { return true }); rej != nil {
		t.Fatalf("unexpected rejection %+v", rej)
	}
	if f.settles != 1 {
		t.Errorf("settles = %d, want inline settlement", f.settles)
	}
}

func TestPaymentGate_SettlementFailure(t *testing.T) {
	tests := map[string]func(SettleRequest) (*SettleResponse, error){
		"unsuccessful": func(SettleRequest) (*SettleResponse, error) {
			resp := SettlementFailed("execution reverted")
			return &resp, nil
		},
		"unreachable": func(SettleRequest) (*SettleResponse, error) {
			return nil, errors.New("timeout")
		},
	}
	for name, settle := range tests {
		t.Run(name, func(t *testing.T) {
			f := &fakeFacilitator{settle: settle}
			sched := &recordingScheduler{}
			gate, states := newTestGate(t, f, WithScheduler(sched))

			hooks := 0
			gate.OnAfterSettle(func(SettledContext) error {
				hooks++
				return nil
			})

			rej := gate.Run(context.Background(), paymentHeader(t), "/post_tweet", func(context.Context) bool { return true })
			if rej != nil {
				t.Fatalf("delivery must not be undone: %+v", rej)
			}
			if err := sched.tasks[0](context.Background()); err == nil {
				t.Error("expected settle task error")
			}
			if hooks != 0 {
				t.Error("after-settle hook ran for a failed settlement")
			}
			assertStates(t, *states, StateVerifying, StateVerified, StateExecuting, StateSettling, StateRejected)
		})
	}
}

func TestPaymentGate_AfterSettleHookErrorIsContained(t *testing.T) {
	f := &fakeFacilitator{}
	gate, _ := newTestGate(t, f)

	calls := 0
	gate.OnAfterSettle(func(SettledContext) error {
		calls++
		return errors.New("proof failed")
	}).OnAfterSettle(func(SettledContext) error {
		calls++
		return nil
	})

	if rej := gate.Run(context.Background(), paymentHeader(t), "/post_tweet", func(context.Context) bool { return true }); rej != nil {
		t.Fatalf("unexpected rejection %+v", rej)
	}
	if calls != 2 {
		t.Errorf("hooks ran %d times, want 2", calls)
	}
}

func TestRecordArtifactOutsideGate(t *testing.T) {
	RecordArtifact(context.Background(), "ignored")
}
