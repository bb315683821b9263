package client

import (
	"context"
	"fmt"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// Covenant is the agent's promise, what it asks in return, and the debt it
// acknowledges, in atomic units
type Covenant struct {
	Promise    string
	Ask        string
	DebtAmount string
}

// CovenantSource decides the covenant an agent offers for a challenge
type CovenantSource interface {
	Covenant(ctx context.Context, req x402.PaymentRequirements) (Covenant, error)
}

// CovenantFunc adapts a function to CovenantSource
type CovenantFunc func(ctx context.Context, req x402.PaymentRequirements) (Covenant, error)

// Covenant implements CovenantSource
func (f CovenantFunc) Covenant(ctx context.Context, req x402.PaymentRequirements) (Covenant, error) {
	return f(ctx, req)
}

// StaticCovenant offers the same covenant for every challenge
func StaticCovenant(c Covenant) CovenantSource {
	return CovenantFunc(func(context.Context, x402.PaymentRequirements) (Covenant, error) {
		return c, nil
	})
}

// KudoEvmClient answers kudo challenges by signing a covenant
type KudoEvmClient struct {
	signer    evm.ClientEvmSigner
	covenants CovenantSource
	recipient string
}

// Option configures the client
type Option func(*KudoEvmClient)

// WithRecipient fixes the covenant recipient. By default the challenge's
// payTo address is used.
func WithRecipient(address string) Option {
	return func(c *KudoEvmClient) {
		c.recipient = address
	}
}

// NewKudoEvmClient creates a paying client for the kudo scheme
func NewKudoEvmClient(signer evm.ClientEvmSigner, covenants CovenantSource, opts ...Option) *KudoEvmClient {
	c := &KudoEvmClient{signer: signer, covenants: covenants}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scheme returns the scheme identifier
func (c *KudoEvmClient) Scheme() string {
	return x402.SchemeKudo
}

// Sign returns a copy of req whose extra is replaced by the signed
// kudoPaymentParams. Every other field is echoed unchanged.
func (c *KudoEvmClient) Sign(ctx context.Context, req x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	if req.Scheme != x402.SchemeKudo {
		return req, fmt.Errorf("%w: %s", x402.ErrUnsupportedScheme, req.Scheme)
	}

	covenant, err := c.covenants.Covenant(ctx, req)
	if err != nil {
		return req, fmt.Errorf("failed to build covenant: %w", err)
	}
	debt, err := evm.ParseAmount(covenant.DebtAmount)
	if err != nil {
		return req, err
	}

	recipient := c.recipient
	if recipient == "" {
		recipient = req.PayTo
	}

	agent := c.signer.Address()
	digest, err := evm.HashCovenant(evm.CovenantMessage{
		Promise:    covenant.Promise,
		Ask:        covenant.Ask,
		NFTType:    evm.NFTTypeCreditCard,
		Agent:      agent,
		DebtAmount: debt,
		Recipient:  recipient,
	})
	if err != nil {
		return req, err
	}

	sig, err := c.signer.SignDigest(ctx, digest)
	if err != nil {
		return req, fmt.Errorf("failed to sign covenant: %w", err)
	}
	v, r, s, err := evm.SplitSignature(sig)
	if err != nil {
		return req, err
	}

	signed := req
	signed.Extra = &x402.PaymentExtra{Kudo: &x402.KudoExtra{
		KudoPaymentParams: &x402.KudoPaymentParams{
			AgentAddr:       agent,
			CovenantPromise: covenant.Promise,
			CovenantAsk:     covenant.Ask,
			DebtAmount:      debt.String(),
			Signature:       x402.Signature{V: x402.SignatureV(v), R: r, S: s},
		},
	}}
	return signed, nil
}

// CreatePaymentHeader signs req and encodes it as an X-PAYMENT value
func (c *KudoEvmClient) CreatePaymentHeader(ctx context.Context, req x402.PaymentRequirements) (string, error) {
	signed, err := c.Sign(ctx, req)
	if err != nil {
		return "", err
	}
	return x402.EncodePaymentHeader(signed)
}
