package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402evm "github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// ClientSigner implements x402evm.ClientEvmSigner using an ECDSA private key.
// Paying agents use it to sign covenant digests.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded
// private key, with or without the 0x prefix.
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey(os.Getenv("AGENT_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	payer := client.NewKudoEvmClient(signer, covenants)
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignDigest signs a 32-byte digest with no message prefix.
// The signature is r || s || v with v adjusted to 27/28.
func (s *ClientSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	// Recovery id 0/1 → 27/28
	signature[64] += 27
	return signature, nil
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return privateKey, nil
}

var _ x402evm.ClientEvmSigner = (*ClientSigner)(nil)
