package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// Backend is the subset of an Ethereum RPC client the contract signer needs.
// *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ContractSigner sends contract transactions from one wallet. Nonce
// acquisition and send are serialized, so concurrent settlements from the
// same process never reuse a nonce.
type ContractSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	backend    Backend
	chainID    *big.Int
	closer     func()

	// sendMu guards the pending nonce between PendingNonceAt and SendTransaction
	sendMu sync.Mutex

	pollInterval  time.Duration
	gasMultiplier float64
}

// ContractSignerOption configures a ContractSigner
type ContractSignerOption func(*ContractSigner)

// WithPollInterval sets how often receipts are polled
func WithPollInterval(d time.Duration) ContractSignerOption {
	return func(s *ContractSigner) {
		s.pollInterval = d
	}
}

// WithGasMultiplier pads the gas estimate, e.g. 1.2 for +20%
func WithGasMultiplier(m float64) ContractSignerOption {
	return func(s *ContractSigner) {
		s.gasMultiplier = m
	}
}

// DialContractSigner connects to rpcURL and returns a signer for the wallet
// behind privateKeyHex. Close releases the connection.
func DialContractSigner(ctx context.Context, privateKeyHex string, rpcURL string, opts ...ContractSignerOption) (*ContractSigner, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	signer, err := NewContractSigner(ctx, privateKeyHex, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	signer.closer = client.Close
	return signer, nil
}

// NewContractSigner creates a signer on an existing backend
func NewContractSigner(ctx context.Context, privateKeyHex string, backend Backend, opts ...ContractSignerOption) (*ContractSigner, error) {
	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	s := &ContractSigner{
		privateKey:    privateKey,
		address:       crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:       backend,
		chainID:       chainID,
		pollInterval:  time.Second,
		gasMultiplier: 1.2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the RPC connection if the signer dialed it
func (s *ContractSigner) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Address returns the sending wallet address
func (s *ContractSigner) Address() string {
	return s.address.Hex()
}

// GetChainID returns the chain ID read at construction
func (s *ContractSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.chainID), nil
}

// WriteContract packs functionName(args...) against abiJSON, estimates gas
// (which surfaces reverts before anything is sent), signs and sends.
func (s *ContractSigner) WriteContract(ctx context.Context, contractAddress string, abiJSON []byte, functionName string, args ...interface{}) (string, error) {
	contractABI, err := x402evm.ParseABI(abiJSON)
	if err != nil {
		return "", err
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}

	to := common.HexToAddress(contractAddress)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas = uint64(float64(gas) * s.gasMultiplier)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or ctx ends
func (s *ContractSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not mined: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TransactionReceipt fetches the receipt of a mined transaction. It returns
// an error wrapping ethereum.NotFound while the transaction is pending.
func (s *ContractSigner) TransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	receipt, err := s.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt for %s: %w", txHash, ethereum.NotFound)
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return &x402evm.TransactionReceipt{
		Status:      receipt.Status,
		BlockNumber: block,
		TxHash:      receipt.TxHash.Hex(),
		Logs:        receipt.Logs,
	}, nil
}

var _ x402evm.ContractSigner = (*ContractSigner)(nil)
