package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/go-cmp/cmp"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

const kudoContract = "0x2222222222222222222222222222222222222222"

func TestRequirements_Defaults(t *testing.T) {
	s := NewKudoEvmServer(Config{Asset: kudoContract})

	req, err := s.Requirements("/post_tweet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := x402.PaymentRequirements{
		Scheme:            "kudo",
		Network:           "base-sepolia",
		MaxAmountRequired: "100000000000000",
		Resource:          "/post_tweet",
		Description:       "Twitter MCP API access",
		MimeType:          "application/json",
		PayTo:             "0x1BAB12dd29E89455752613055EC6036eD6c17ccf",
		MaxTimeoutSeconds: 30,
		Asset:             kudoContract,
		Extra: &x402.PaymentExtra{Kudo: &x402.KudoExtra{
			Amount:         "0.01 USDC",
			DueDateMinutes: 5,
		}},
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("requirements mismatch (-want +got):\n%s", diff)
	}

	if resp := x402.ValidateRequirements(req); !resp.IsValid {
		t.Errorf("challenge does not validate: %s", resp.Reason())
	}
}

func TestRequirements_WireFormat(t *testing.T) {
	s := NewKudoEvmServer(Config{Asset: kudoContract, Amount: "1 USDC", DueDateMinutes: 10})
	req, err := s.Requirements("/search_tweets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if v, ok := wire["outputSchema"]; !ok || v != nil {
		t.Errorf("outputSchema = %v, want explicit null", v)
	}
	extra, ok := wire["extra"].(map[string]interface{})
	if !ok {
		t.Fatalf("extra = %T", wire["extra"])
	}
	if extra["amount"] != "1 USDC" || extra["dueDateMinutes"] != float64(10) {
		t.Errorf("extra = %v", extra)
	}
	if _, ok := extra["kudoPaymentParams"]; ok {
		t.Error("challenge must not carry kudoPaymentParams")
	}
}

func TestRequirements_ChecksumsAddresses(t *testing.T) {
	s := NewKudoEvmServer(Config{
		Asset: kudoContract,
		PayTo: "0x1bab12dd29e89455752613055ec6036ed6c17ccf",
	})
	req, err := s.Requirements("/post_tweet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.PayTo != DefaultPayTo {
		t.Errorf("payTo = %s, want %s", req.PayTo, DefaultPayTo)
	}
}

func TestRequirements_MissingAsset(t *testing.T) {
	_, err := NewKudoEvmServer(Config{}).Requirements("/post_tweet")
	if !errors.Is(err, x402.ErrMissingAsset) {
		t.Errorf("err = %v, want ErrMissingAsset", err)
	}

	_, err = NewKudoEvmServer(Config{Asset: "KUDO"}).Requirements("/post_tweet")
	if !errors.Is(err, x402.ErrMissingAsset) {
		t.Errorf("err = %v, want ErrMissingAsset for non-address asset", err)
	}
}

// proofSigner serves a canned settlement receipt and records proof writes
type proofSigner struct {
	settlement *evm.TransactionReceipt
	writeErr   error
	proofFails bool
	writes     [][]interface{}
}

func (p *proofSigner) Address() string { return "0x1BAB12dd29E89455752613055EC6036eD6c17ccf" }

func (p *proofSigner) WriteContract(ctx context.Context, address string, abi []byte, fn string, args ...interface{}) (string, error) {
	if p.writeErr != nil {
		return "", p.writeErr
	}
	p.writes = append(p.writes, args)
	return "0xproof", nil
}

func (p *proofSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	if txHash == "0xproof" {
		status := uint64(evm.TxStatusSuccess)
		if p.proofFails {
			status = evm.TxStatusFailed
		}
		return &evm.TransactionReceipt{Status: status, TxHash: txHash}, nil
	}
	if p.settlement == nil {
		return nil, errors.New("not found")
	}
	return p.settlement, nil
}

func (p *proofSigner) TransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return p.WaitForTransactionReceipt(ctx, txHash)
}

func (p *proofSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}

func mintReceipt(t *testing.T, emitter string, tokenID int64) *evm.TransactionReceipt {
	t.Helper()
	parsed, err := evm.ParseABI(evm.KudoABI)
	if err != nil {
		t.Fatal(err)
	}
	return &evm.TransactionReceipt{
		Status: evm.TxStatusSuccess,
		TxHash: "0xsettle",
		Logs: []*types.Log{{
			Address: common.HexToAddress(emitter),
			Topics: []common.Hash{
				parsed.Events[evm.EventTransfer].ID,
				{},
				common.BytesToHash(common.HexToAddress("0x1BAB12dd29E89455752613055EC6036eD6c17ccf").Bytes()),
				common.BigToHash(big.NewInt(tokenID)),
			},
		}},
	}
}

func settled(artifact string) x402.SettledContext {
	return x402.SettledContext{
		Ctx:      context.Background(),
		Resource: "/post_tweet",
		Result:   x402.Settled("0xsettle", "84532"),
		Artifact: artifact,
	}
}

func TestProofRecorder_AttachesTweetURL(t *testing.T) {
	signer := &proofSigner{settlement: mintReceipt(t, kudoContract, 42)}
	recorder := NewProofRecorder(signer, kudoContract)

	if err := recorder.AfterSettle(settled("https://twitter.com/kudo/status/1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(signer.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(signer.writes))
	}
	want := []interface{}{big.NewInt(42), "https://twitter.com/kudo/status/1", ""}
	if diff := cmp.Diff(want, signer.writes[0], cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })); diff != "" {
		t.Errorf("setAskSettlementData args (-want +got):\n%s", diff)
	}
}

func TestProofRecorder_Failures(t *testing.T) {
	tests := []struct {
		name   string
		signer *proofSigner
	}{
		{"no receipt", &proofSigner{}},
		{"transfer from other contract", &proofSigner{settlement: mintReceipt(t, "0x9999999999999999999999999999999999999999", 1)}},
		{"write fails", &proofSigner{settlement: mintReceipt(t, kudoContract, 1), writeErr: errors.New("insufficient funds")}},
		{"proof reverts", &proofSigner{settlement: mintReceipt(t, kudoContract, 1), proofFails: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProofRecorder(tt.signer, kudoContract).AfterSettle(settled("https://twitter.com/kudo/status/1"))
			var perr *x402.PaymentError
			if !errors.As(err, &perr) || perr.Code != x402.ErrCodeProofFailed {
				t.Errorf("err = %v, want proof_attachment_failed", err)
			}
		})
	}
}

func TestProofRecorder_SkipsWithoutArtifact(t *testing.T) {
	signer := &proofSigner{}
	if err := NewProofRecorder(signer, kudoContract).AfterSettle(settled("")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(signer.writes) != 0 {
		t.Error("expected no contract writes")
	}
}
