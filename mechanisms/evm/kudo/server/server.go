package server

import (
	"fmt"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// Challenge defaults for the kudo scheme
const (
	DefaultNetwork           = "base-sepolia"
	DefaultMaxAmountRequired = "100000000000000"
	DefaultDescription       = "Twitter MCP API access"
	DefaultMimeType          = "application/json"
	DefaultPayTo             = "0x1BAB12dd29E89455752613055EC6036eD6c17ccf"
	DefaultMaxTimeoutSeconds = 30
	DefaultAmount            = "0.01 USDC"
	DefaultDueDateMinutes    = 5
)

// Config describes the price of a protected resource. Zero fields take the
// package defaults; Asset (the Kudo contract) is required.
type Config struct {
	Network           x402.Network
	Asset             string
	PayTo             string
	MaxAmountRequired string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Amount            string
	DueDateMinutes    int
}

// KudoEvmServer builds kudo scheme 402 challenges
type KudoEvmServer struct {
	cfg Config
}

// NewKudoEvmServer creates a challenge builder from cfg
func NewKudoEvmServer(cfg Config) *KudoEvmServer {
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.PayTo == "" {
		cfg.PayTo = DefaultPayTo
	}
	if cfg.MaxAmountRequired == "" {
		cfg.MaxAmountRequired = DefaultMaxAmountRequired
	}
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	if cfg.MimeType == "" {
		cfg.MimeType = DefaultMimeType
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	if cfg.Amount == "" {
		cfg.Amount = DefaultAmount
	}
	if cfg.DueDateMinutes <= 0 {
		cfg.DueDateMinutes = DefaultDueDateMinutes
	}
	if evm.IsValidAddress(cfg.PayTo) {
		cfg.PayTo = evm.NormalizeAddress(cfg.PayTo)
	}
	if evm.IsValidAddress(cfg.Asset) {
		cfg.Asset = evm.NormalizeAddress(cfg.Asset)
	}
	return &KudoEvmServer{cfg: cfg}
}

// Scheme returns the scheme identifier
func (s *KudoEvmServer) Scheme() string {
	return x402.SchemeKudo
}

// Requirements returns the single payment option offered for resource
func (s *KudoEvmServer) Requirements(resource string) (x402.PaymentRequirements, error) {
	if s.cfg.Asset == "" {
		return x402.PaymentRequirements{}, x402.ErrMissingAsset
	}
	if !evm.IsValidAddress(s.cfg.Asset) {
		return x402.PaymentRequirements{}, fmt.Errorf("%w: %q is not an address", x402.ErrMissingAsset, s.cfg.Asset)
	}

	return x402.PaymentRequirements{
		Scheme:            x402.SchemeKudo,
		Network:           s.cfg.Network,
		MaxAmountRequired: s.cfg.MaxAmountRequired,
		Resource:          resource,
		Description:       s.cfg.Description,
		MimeType:          s.cfg.MimeType,
		PayTo:             s.cfg.PayTo,
		MaxTimeoutSeconds: s.cfg.MaxTimeoutSeconds,
		Asset:             s.cfg.Asset,
		Extra: &x402.PaymentExtra{Kudo: &x402.KudoExtra{
			Amount:         s.cfg.Amount,
			DueDateMinutes: s.cfg.DueDateMinutes,
		}},
	}, nil
}

var _ x402.RequirementsBuilder = (*KudoEvmServer)(nil)
