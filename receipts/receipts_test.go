package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

const registry = "0x3333333333333333333333333333333333333333"

type fakeFilterer struct {
	logs  []types.Log
	err   error
	query ethereum.FilterQuery
}

func (f *fakeFilterer) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.query = q
	return f.logs, f.err
}

func (f *fakeFilterer) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func feedbackLog(t *testing.T, agentID int64, fileURI string) types.Log {
	t.Helper()
	parsed, err := evm.ParseABI(evm.ReputationRegistryABI)
	require.NoError(t, err)
	event := parsed.Events[evm.EventNewFeedback]

	data, err := event.Inputs.NonIndexed().Pack(uint8(5), [32]byte{}, fileURI, [32]byte{})
	require.NoError(t, err)

	return types.Log{
		Address: common.HexToAddress(registry),
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(agentID)),
			common.BytesToHash(common.HexToAddress("0x4444444444444444444444444444444444444444").Bytes()),
			{},
		},
		Data: data,
	}
}

func receiptJSON(txHash string) string {
	sig := "0x" + "ab" + repeat("11", 32) + repeat("22", 32) + "1b"
	return `{"agentId":449,"proof_of_payment":{"fromAddress":"0xaaa","toAddress":"0xbbb","chainId":84532,` +
		`"txHash":"` + txHash + `","nonce":3,"amount":0.01,"signature":"` + sig + `","createdAt":"2025-01-01T00:00:00Z","fileURI":"ipfs://x"}}`
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func TestReader_PaymentReceipts(t *testing.T) {
	ipfs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/cid1":
			_, _ = w.Write([]byte(receiptJSON("0x01")))
		case "/ipfs/cid2":
			_, _ = w.Write([]byte(receiptJSON("0x02")))
		case "/direct":
			_, _ = w.Write([]byte(receiptJSON("0x03")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ipfs.Close()

	filterer := &fakeFilterer{logs: []types.Log{
		feedbackLog(t, 449, "ipfs://cid1"),
		feedbackLog(t, 449, "ipfs://missing"),
		feedbackLog(t, 449, "cid2"),
		feedbackLog(t, 449, ipfs.URL+"/direct"),
		{Address: common.HexToAddress(registry), Topics: []common.Hash{{0x01}}},
	}}

	reader, err := NewReader(filterer, registry, WithIPFSURL(ipfs.URL+"/"), WithStartBlock(42), WithConcurrency(2))
	require.NoError(t, err)

	receipts, err := reader.PaymentReceipts(context.Background(), big.NewInt(449))
	require.NoError(t, err)

	var txs []string
	for _, r := range receipts {
		txs = append(txs, r.ProofOfPayment.TxHash)
	}
	assert.Equal(t, []string{"0x01", "0x02", "0x03"}, txs, "failed fetches are dropped, order is kept")

	assert.Equal(t, big.NewInt(42), filterer.query.FromBlock)
	assert.Nil(t, filterer.query.ToBlock)
	require.Len(t, filterer.query.Topics, 2)
	assert.Equal(t, common.BigToHash(big.NewInt(449)), filterer.query.Topics[1][0])
}

func TestReader_FilterError(t *testing.T) {
	reader, err := NewReader(&fakeFilterer{err: errors.New("rpc down")}, registry)
	require.NoError(t, err)

	_, err = reader.PaymentReceipts(context.Background(), big.NewInt(1))
	assert.ErrorContains(t, err, "rpc down")
}

func TestNewReader_InvalidRegistry(t *testing.T) {
	_, err := NewReader(&fakeFilterer{}, "not-an-address")
	assert.Error(t, err)
}

func TestParseFacilitatorSignature(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FacilitatorSignature
	}{
		{
			name: "prefixed auth",
			in:   "0xdeadbeef" + repeat("11", 32) + repeat("22", 32) + "1c",
			want: FacilitatorSignature{V: 28, R: "0x" + repeat("11", 32), S: "0x" + repeat("22", 32)},
		},
		{
			name: "bare signature",
			in:   repeat("aa", 32) + repeat("bb", 32) + "1b",
			want: FacilitatorSignature{V: 27, R: "0x" + repeat("aa", 32), S: "0x" + repeat("bb", 32)},
		},
		{
			name: "empty",
			in:   "",
			want: FacilitatorSignature{R: "0x", S: "0x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseFacilitatorSignature(tt.in)); diff != "" {
				t.Errorf("signature mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeSource struct {
	receipts []PaymentReceipt
	err      error
}

func (f fakeSource) PaymentReceipts(context.Context, *big.Int) ([]PaymentReceipt, error) {
	return f.receipts, f.err
}

func TestServer_GetPaymentReceipts(t *testing.T) {
	var stored PaymentReceipt
	require.NoError(t, json.Unmarshal([]byte(receiptJSON("0x01")), &stored))

	e := NewServer(fakeSource{receipts: []PaymentReceipt{stored}}, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_payment_receipts/449", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AgentID  int64     `json:"agentId"`
		Receipts []Receipt `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(449), resp.AgentID)
	require.Len(t, resp.Receipts, 1)
	assert.Equal(t, 0.01, resp.Receipts[0].AmountUSDC)
	assert.Equal(t, 27, resp.Receipts[0].FacilitatorSignature.V)
	assert.Equal(t, "0x"+repeat("11", 32), resp.Receipts[0].FacilitatorSignature.R)
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		source fakeSource
		status int
	}{
		{name: "invalid agent id", path: "/get_payment_receipts/abc", status: http.StatusBadRequest},
		{name: "negative agent id", path: "/get_payment_receipts/-1", status: http.StatusBadRequest},
		{name: "chain failure", path: "/get_payment_receipts/1", source: fakeSource{err: errors.New("rpc down")}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewServer(tt.source, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}
