package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// ClientEvmSigner signs covenant digests on behalf of a paying agent
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignDigest signs a 32-byte digest without any message prefix.
	// The returned signature is 65 bytes, r || s || v with v in {27, 28}.
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// ContractSigner submits and observes covenant contract transactions.
// The facilitator uses it to settle, the resource server to attach proof.
type ContractSigner interface {
	// Address returns the sending wallet address
	Address() string

	// WriteContract packs and sends a contract call, returning the tx hash
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// TransactionReceipt fetches the receipt of an already mined transaction
	TransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetChainID returns the chain ID of the connected network
	GetChainID(ctx context.Context) (*big.Int, error)
}

// LogFilterer reads historical event logs. *ethclient.Client satisfies it.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64       `json:"status"`
	BlockNumber uint64       `json:"blockNumber"`
	TxHash      string       `json:"transactionHash"`
	Logs        []*types.Log `json:"logs"`
}
