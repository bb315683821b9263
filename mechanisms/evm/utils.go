package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAddress reports whether s is a 20-byte hex address, with or without
// 0x. Mixed-case input must carry a valid EIP-55 checksum.
func IsValidAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex()[2:] == body
}

// NormalizeAddress returns the checksummed form of an address
func NormalizeAddress(s string) string {
	return common.HexToAddress(s).Hex()
}

// HexToBytes decodes a hex string with optional 0x prefix
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// HexToBytes32 decodes a 32-byte hex word such as a signature r or s
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseAmount parses a non-negative decimal integer string
func ParseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

// GetEvmChainId returns the chain ID for an x402 network name
func GetEvmChainId(network string) (*big.Int, error) {
	if chainID, ok := NetworkChainIDs[network]; ok {
		return new(big.Int).Set(chainID), nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}
