package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// ProofRecorder attaches proof of delivery to the covenant minted by a
// settlement. It reads the covenant id from the settlement receipt and calls
// setAskSettlementData(id, artifact, "").
type ProofRecorder struct {
	signer         evm.ContractSigner
	contract       string
	receiptTimeout time.Duration
	logger         *slog.Logger
}

// ProofOption configures a ProofRecorder
type ProofOption func(*ProofRecorder)

// WithProofReceiptTimeout bounds each receipt wait
func WithProofReceiptTimeout(d time.Duration) ProofOption {
	return func(p *ProofRecorder) {
		p.receiptTimeout = d
	}
}

// WithProofLogger sets the logger
func WithProofLogger(logger *slog.Logger) ProofOption {
	return func(p *ProofRecorder) {
		p.logger = logger
	}
}

// NewProofRecorder creates a recorder writing to the Kudo contract at contractAddress
func NewProofRecorder(signer evm.ContractSigner, contractAddress string, opts ...ProofOption) *ProofRecorder {
	p := &ProofRecorder{
		signer:         signer,
		contract:       contractAddress,
		receiptTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AfterSettle is an x402.AfterSettleHook. A settlement without a recorded
// artifact has nothing to prove and is skipped.
func (p *ProofRecorder) AfterSettle(sc x402.SettledContext) error {
	if sc.Artifact == "" {
		p.logger.Info("no delivery artifact recorded, skipping proof", "txHash", sc.Result.Transaction())
		return nil
	}

	nftID, err := p.CovenantID(sc.Ctx, sc.Result.Transaction())
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeProofFailed, err.Error(), map[string]interface{}{
			"txHash": sc.Result.Transaction(),
		})
	}

	txHash, err := p.Attach(sc.Ctx, nftID, sc.Artifact)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeProofFailed, err.Error(), map[string]interface{}{
			"txHash": sc.Result.Transaction(),
			"nftId":  nftID.String(),
		})
	}

	p.logger.Info("ask settlement data set",
		"nftId", nftID.String(),
		"artifact", sc.Artifact,
		"txHash", txHash,
	)
	return nil
}

// CovenantID returns the token id of the first Transfer emitted by the Kudo
// contract in the settlement transaction
func (p *ProofRecorder) CovenantID(ctx context.Context, settlementTx string) (*big.Int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.receiptTimeout)
	defer cancel()

	receipt, err := p.signer.WaitForTransactionReceipt(waitCtx, settlementTx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement receipt: %w", err)
	}

	transfer, err := evm.DecodeFirstEvent(evm.KudoABI, receipt.Logs, p.contract, evm.EventTransfer)
	if err != nil {
		return nil, err
	}
	return transfer.Uint("tokenId")
}

// Attach writes artifact as the ask settlement data of covenant nftID and
// waits for the transaction to be mined
func (p *ProofRecorder) Attach(ctx context.Context, nftID *big.Int, artifact string) (string, error) {
	txHash, err := p.signer.WriteContract(ctx, p.contract, evm.KudoABI, evm.FunctionSetAskSettlementData, nftID, artifact, "")
	if err != nil {
		return "", fmt.Errorf("failed to set ask settlement data: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.receiptTimeout)
	defer cancel()

	receipt, err := p.signer.WaitForTransactionReceipt(waitCtx, txHash)
	if err != nil {
		return txHash, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return txHash, fmt.Errorf("setAskSettlementData transaction %s reverted", txHash)
	}
	return txHash, nil
}
