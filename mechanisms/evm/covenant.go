package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// CovenantMessage is what an agent signs to let a facilitator mint a
// covenant on its behalf
type CovenantMessage struct {
	Promise    string
	Ask        string
	NFTType    string
	Agent      string
	DebtAmount *big.Int
	Recipient  string
}

var covenantArguments = func() abi.Arguments {
	stringType, _ := abi.NewType("string", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	uintType, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{
		{Type: stringType},
		{Type: stringType},
		{Type: stringType},
		{Type: addressType},
		{Type: uintType},
		{Type: addressType},
	}
}()

// HashCovenant returns keccak256(abi.encode(promise, ask, nftType, agent,
// debtAmount, recipient))
func HashCovenant(m CovenantMessage) ([]byte, error) {
	if m.DebtAmount == nil {
		return nil, fmt.Errorf("debt amount is required")
	}
	if !IsValidAddress(m.Agent) {
		return nil, fmt.Errorf("invalid agent address %q", m.Agent)
	}
	if !IsValidAddress(m.Recipient) {
		return nil, fmt.Errorf("invalid recipient address %q", m.Recipient)
	}

	packed, err := covenantArguments.Pack(
		m.Promise,
		m.Ask,
		m.NFTType,
		common.HexToAddress(m.Agent),
		m.DebtAmount,
		common.HexToAddress(m.Recipient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode covenant: %w", err)
	}
	return crypto.Keccak256(packed), nil
}

// SplitSignature splits a 65-byte r || s || v signature into hex components.
// v is normalized to 27/28.
func SplitSignature(sig []byte) (v uint8, r string, s string, err error) {
	if len(sig) != 65 {
		return 0, "", "", fmt.Errorf("invalid signature length %d", len(sig))
	}
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, hexutil.Encode(sig[:32]), hexutil.Encode(sig[32:64]), nil
}

// RecoverSigner recovers the address that produced v, r, s over digest
func RecoverSigner(digest []byte, v uint8, r, s [32]byte) (common.Address, error) {
	sig := make([]byte, 65)
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	if v >= 27 {
		v -= 27
	}
	sig[64] = v

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
