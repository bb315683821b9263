package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// Payer turns a 402 challenge into an X-PAYMENT header value.
// kudo/client.KudoEvmClient implements it.
type Payer interface {
	Scheme() string
	CreatePaymentHeader(ctx context.Context, req x402.PaymentRequirements) (string, error)
}

// ErrNoAcceptablePayment means a 402 offered no scheme the payer supports
var ErrNoAcceptablePayment = errors.New("x402: no acceptable payment requirements")

// PaymentRoundTripper answers 402 challenges by signing the offered
// requirements and retrying the request once with an X-PAYMENT header.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Payer     Payer
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Never pay twice for the same request
	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(x402.PaymentHeaderName) != "" {
		return resp, nil
	}

	challenge, err := readChallenge(resp)
	if err != nil {
		return nil, err
	}

	requirements, ok := t.selectRequirements(challenge)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAcceptablePayment, t.Payer.Scheme())
	}

	header, err := t.Payer.CreatePaymentHeader(req.Context(), requirements)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment header: %w", err)
	}

	paidReq := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("x402: cannot replay request body for payment")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		paidReq.Body = body
	}
	paidReq.Header.Set(x402.PaymentHeaderName, header)

	return transport.RoundTrip(paidReq)
}

func (t *PaymentRoundTripper) selectRequirements(challenge x402.PaymentRequired) (x402.PaymentRequirements, bool) {
	for _, accept := range challenge.Accepts {
		if accept.Scheme == t.Payer.Scheme() {
			return accept, true
		}
	}
	return x402.PaymentRequirements{}, false
}

func readChallenge(resp *http.Response) (x402.PaymentRequired, error) {
	defer resp.Body.Close()

	var challenge x402.PaymentRequired
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return challenge, fmt.Errorf("failed to read 402 response: %w", err)
	}
	if err := json.Unmarshal(data, &challenge); err != nil {
		return challenge, fmt.Errorf("failed to decode 402 response: %w", err)
	}
	return challenge, nil
}

// WrapHTTPClientWithPayment returns a copy of client that pays 402
// challenges with payer
func WrapHTTPClientWithPayment(client *http.Client, payer Payer) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport: client.Transport,
		Payer:     payer,
	}
	return &wrapped
}
