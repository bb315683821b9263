package facilitator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// KudoEvmScheme settles kudo payments by minting a covenant NFT on behalf
// of the paying agent. The facilitator wallet is the recipient and pays gas.
type KudoEvmScheme struct {
	signer         evm.ContractSigner
	contract       string
	agentID        *big.Int
	receiptTimeout time.Duration
	logger         *slog.Logger
}

// Option configures the scheme
type Option func(*KudoEvmScheme)

// WithAgentID overrides the registry id passed to the mint call
func WithAgentID(id int64) Option {
	return func(s *KudoEvmScheme) {
		s.agentID = big.NewInt(id)
	}
}

// WithReceiptTimeout bounds the wait for the mint receipt
func WithReceiptTimeout(d time.Duration) Option {
	return func(s *KudoEvmScheme) {
		s.receiptTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *KudoEvmScheme) {
		s.logger = logger
	}
}

// NewKudoEvmScheme creates a settlement scheme for the covenant contract at
// contractAddress
func NewKudoEvmScheme(signer evm.ContractSigner, contractAddress string, opts ...Option) *KudoEvmScheme {
	s := &KudoEvmScheme{
		signer:         signer,
		contract:       contractAddress,
		agentID:        big.NewInt(evm.DefaultAgentID),
		receiptTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scheme returns the scheme identifier
func (s *KudoEvmScheme) Scheme() string {
	return x402.SchemeKudo
}

// GetSigners returns the facilitator wallet address
func (s *KudoEvmScheme) GetSigners(_ x402.Network) []string {
	if s.signer == nil {
		return nil
	}
	return []string{s.signer.Address()}
}

// CheckNetwork fails when the signer's RPC serves a different chain than
// network names. Networks without a known chain id are not checked.
func (s *KudoEvmScheme) CheckNetwork(ctx context.Context, network x402.Network) error {
	want, err := evm.GetEvmChainId(string(network))
	if err != nil {
		return nil
	}
	if s.signer == nil {
		return errors.New(ErrMissingContractSigner)
	}
	got, err := s.signer.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", ErrFailedToGetChainID, err)
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("network %s has chain id %s but the RPC reports %s", network, want, got)
	}
	return nil
}

// Settle mints the covenant described by params. Every failure, including a
// panic in the signer, is reported in the response with a null txHash.
func (s *KudoEvmScheme) Settle(ctx context.Context, params x402.KudoPaymentParams) (resp x402.SettleResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = x402.SettlementFailed(fmt.Sprintf("settlement panicked: %v", r))
		}
		if !resp.Success {
			s.logger.Error("covenant settlement failed", "agent", params.AgentAddr, "error", resp.ErrorMessage())
		}
	}()

	if s.signer == nil {
		return x402.SettlementFailed(ErrMissingContractSigner)
	}
	if s.contract == "" {
		return x402.SettlementFailed(ErrMissingContract)
	}

	debtAmount, err := evm.ParseAmount(params.DebtAmount)
	if err != nil {
		return x402.SettlementFailed(fmt.Sprintf("%s: %v", ErrInvalidDebtAmount, err))
	}
	if !evm.IsValidAddress(params.AgentAddr) {
		return x402.SettlementFailed(fmt.Sprintf("%s: %q", ErrInvalidAgentAddress, params.AgentAddr))
	}
	r, err := evm.HexToBytes32(params.Signature.R)
	if err != nil {
		return x402.SettlementFailed(fmt.Sprintf("%s: r: %v", ErrInvalidSignature, err))
	}
	sigS, err := evm.HexToBytes32(params.Signature.S)
	if err != nil {
		return x402.SettlementFailed(fmt.Sprintf("%s: s: %v", ErrInvalidSignature, err))
	}

	recipient := s.signer.Address()
	s.logger.Info("minting covenant",
		"recipient", recipient,
		"agent", params.AgentAddr,
		"agentId", s.agentID.String(),
		"debtAmount", debtAmount.String(),
		"amountPaid", "0",
		"paymentMethod", evm.NFTTypeCreditCard,
	)

	txHash, err := s.signer.WriteContract(
		ctx,
		s.contract,
		evm.KudoABI,
		evm.FunctionMintCovenantOnBehalfOf,
		common.HexToAddress(recipient),
		common.HexToAddress(params.AgentAddr),
		new(big.Int).Set(s.agentID),
		debtAmount,
		params.CovenantPromise,
		params.CovenantAsk,
		evm.NFTTypeCreditCard,
		uint8(params.Signature.V),
		r,
		sigS,
	)
	if err != nil {
		return x402.SettlementFailed(fmt.Sprintf("%s: %v", ErrFailedToMint, err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	receipt, err := s.signer.WaitForTransactionReceipt(waitCtx, txHash)
	if err != nil {
		return x402.SettlementFailed(fmt.Sprintf("%s: %v", ErrFailedToGetReceipt, err))
	}
	if receipt.Status != evm.TxStatusSuccess {
		return x402.SettlementFailed(fmt.Sprintf("%s: %s reverted", ErrTransactionFailed, txHash))
	}

	chainID, err := s.signer.GetChainID(ctx)
	if err != nil {
		return x402.SettlementFailed(fmt.Sprintf("%s: %v", ErrFailedToGetChainID, err))
	}

	attrs := []any{"txHash", txHash, "block", receipt.BlockNumber, "chainId", chainID.String()}
	if minted, err := evm.DecodeFirstEvent(evm.KudoABI, receipt.Logs, s.contract, evm.EventTransfer); err == nil {
		if id, err := minted.Uint("tokenId"); err == nil {
			attrs = append(attrs, "nftId", id.String())
		}
	}
	s.logger.Info("covenant minted", attrs...)

	return x402.Settled(txHash, chainID.String())
}

var _ x402.SchemeNetworkFacilitator = (*KudoEvmScheme)(nil)
