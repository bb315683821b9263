package evm

import (
	"math/big"
)

const (
	// Covenant contract function names
	FunctionMintCovenantOnBehalfOf = "mintCovenantOnBehalfOf"
	FunctionSetAskSettlementData   = "setAskSettlementData"

	// Covenant contract event names
	EventTransfer         = "Transfer"
	EventAskSettlementSet = "AskSettlementSet"

	// Reputation registry event carrying payment receipts
	EventNewFeedback = "NewFeedback"

	// NFTTypeCreditCard classifies covenants minted for deferred x402 payments
	NFTTypeCreditCard = "CREDIT_CARD"

	// DefaultAgentID is the registry id used when minting on behalf of an agent
	DefaultAgentID = 449

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0
)

var (
	// Network chain IDs
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// NetworkChainIDs maps x402 network names to chain ids
	NetworkChainIDs = map[string]*big.Int{
		"ethereum":     big.NewInt(1),
		"sepolia":      big.NewInt(11155111),
		"base":         ChainIDBase,
		"base-sepolia": ChainIDBaseSepolia,
		"polygon":      big.NewInt(137),
		"polygon-amoy": big.NewInt(80002),
	}

	// KudoABI covers the covenant contract surface used by settlement and
	// proof-of-delivery.
	KudoABI = []byte(`[
		{
			"type": "function",
			"name": "mintCovenantOnBehalfOf",
			"inputs": [
				{"name": "recipient", "type": "address"},
				{"name": "agentAddress", "type": "address"},
				{"name": "agentId", "type": "uint256"},
				{"name": "debtAmount", "type": "uint256"},
				{"name": "covenantPromise", "type": "string"},
				{"name": "ask", "type": "string"},
				{"name": "nftType", "type": "string"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "nonpayable"
		},
		{
			"type": "function",
			"name": "setAskSettlementData",
			"inputs": [
				{"name": "nftId", "type": "uint256"},
				{"name": "settlementData", "type": "string"},
				{"name": "promiseDetail", "type": "string"}
			],
			"outputs": [],
			"stateMutability": "nonpayable"
		},
		{
			"type": "event",
			"name": "Transfer",
			"inputs": [
				{"name": "from", "type": "address", "indexed": true},
				{"name": "to", "type": "address", "indexed": true},
				{"name": "tokenId", "type": "uint256", "indexed": true}
			],
			"anonymous": false
		},
		{
			"type": "event",
			"name": "CovenantMinted",
			"inputs": [
				{"name": "nftId", "type": "uint256", "indexed": false},
				{"name": "agent", "type": "address", "indexed": true},
				{"name": "nftType", "type": "string", "indexed": false},
				{"name": "covenantPromise", "type": "string", "indexed": false},
				{"name": "ask", "type": "string", "indexed": false}
			],
			"anonymous": false
		},
		{
			"type": "event",
			"name": "AskSettlementSet",
			"inputs": [
				{"name": "nftId", "type": "uint256", "indexed": false},
				{"name": "askSettlement", "type": "string", "indexed": false},
				{"name": "promiseDetails", "type": "string", "indexed": false}
			],
			"anonymous": false
		}
	]`)

	// ReputationRegistryABI covers the NewFeedback event used for receipts
	ReputationRegistryABI = []byte(`[
		{
			"type": "event",
			"name": "NewFeedback",
			"inputs": [
				{"name": "agentId", "type": "uint256", "indexed": true},
				{"name": "clientAddress", "type": "address", "indexed": true},
				{"name": "score", "type": "uint8", "indexed": false},
				{"name": "tag1", "type": "bytes32", "indexed": true},
				{"name": "tag2", "type": "bytes32", "indexed": false},
				{"name": "fileuri", "type": "string", "indexed": false},
				{"name": "filehash", "type": "bytes32", "indexed": false}
			],
			"anonymous": false
		}
	]`)
)
