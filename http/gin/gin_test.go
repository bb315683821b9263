package gin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/kudoprotocol/kudo-x402"
	x402http "github.com/kudoprotocol/kudo-x402/http"
	kudoclient "github.com/kudoprotocol/kudo-x402/mechanisms/evm/kudo/client"
	kudoserver "github.com/kudoprotocol/kudo-x402/mechanisms/evm/kudo/server"
	evmsigner "github.com/kudoprotocol/kudo-x402/signers/evm"
)

const (
	agentKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	kudoContract = "0x2222222222222222222222222222222222222222"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingScheme settles every covenant successfully and remembers it
type recordingScheme struct {
	mu      sync.Mutex
	settled []x402.KudoPaymentParams
	fail    string
}

func (s *recordingScheme) Scheme() string { return x402.SchemeKudo }

func (s *recordingScheme) GetSigners(x402.Network) []string {
	return []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}
}

func (s *recordingScheme) Settle(_ context.Context, params x402.KudoPaymentParams) x402.SettleResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, params)
	if s.fail != "" {
		return x402.SettlementFailed(s.fail)
	}
	return x402.Settled("0xabc", "84532")
}

func (s *recordingScheme) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.settled)
}

func newFacilitatorServer(t *testing.T, scheme *recordingScheme) *httptest.Server {
	t.Helper()
	facilitator := x402.Newx402Facilitator().Register([]x402.Network{"base-sepolia"}, scheme)
	server := httptest.NewServer(NewFacilitatorRouter(facilitator, nil, WithMetrics()))
	t.Cleanup(server.Close)
	return server
}

func newPayer(t *testing.T) *kudoclient.KudoEvmClient {
	t.Helper()
	signer, err := evmsigner.NewClientSignerFromPrivateKey(agentKey)
	require.NoError(t, err)
	return kudoclient.NewKudoEvmClient(signer, kudoclient.StaticCovenant(kudoclient.Covenant{
		Promise:    "I will repay within 5 minutes",
		Ask:        "Post a tweet",
		DebtAmount: "10000",
	}))
}

func postJSON(t *testing.T, url string, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestFacilitatorRoutes_Verify(t *testing.T) {
	server := newFacilitatorServer(t, &recordingScheme{})

	req, err := kudoserver.NewKudoEvmServer(kudoserver.Config{Asset: kudoContract}).Requirements("/post_tweet")
	require.NoError(t, err)
	body, err := json.Marshal(x402.VerifyRequest{X402Version: 1, PaymentRequirements: req})
	require.NoError(t, err)

	resp, data := postJSON(t, server.URL+"/verify", string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"isValid":true,"invalidReason":null}`, string(data))

	req.Network = ""
	body, err = json.Marshal(x402.VerifyRequest{X402Version: 1, PaymentRequirements: req})
	require.NoError(t, err)

	resp, data = postJSON(t, server.URL+"/verify", string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"isValid":false,"invalidReason":"Missing network"}`, string(data))
}

func TestFacilitatorRoutes_BadBody(t *testing.T) {
	server := newFacilitatorServer(t, &recordingScheme{})

	for _, path := range []string{"/verify", "/settle"} {
		resp, data := postJSON(t, server.URL+path, `{not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Contains(t, string(data), "Invalid request body", path)
	}
}

func TestFacilitatorRoutes_MistypedDocumentIsAVerdict(t *testing.T) {
	scheme := &recordingScheme{}
	server := newFacilitatorServer(t, scheme)

	req, err := kudoserver.NewKudoEvmServer(kudoserver.Config{Asset: kudoContract}).Requirements("/post_tweet")
	require.NoError(t, err)
	doc, err := json.Marshal(req)
	require.NoError(t, err)

	tests := []struct {
		name    string
		replace [2]string
		verify  string
	}{
		{
			name:    "string timeout",
			replace: [2]string{`"maxTimeoutSeconds":30`, `"maxTimeoutSeconds":"30"`},
			verify:  `{"isValid":false,"invalidReason":"Invalid maxTimeoutSeconds"}`,
		},
		{
			name:    "fractional timeout",
			replace: [2]string{`"maxTimeoutSeconds":30`, `"maxTimeoutSeconds":1.5`},
			verify:  `{"isValid":false,"invalidReason":"Invalid maxTimeoutSeconds"}`,
		},
		{
			name:    "numeric asset",
			replace: [2]string{`"asset":"` + kudoContract + `"`, `"asset":42`},
			verify:  `{"isValid":false,"invalidReason":"Invalid asset address"}`,
		},
		{
			name:    "malformed kudo extra",
			replace: [2]string{`"dueDateMinutes":5`, `"dueDateMinutes":"5"`},
			verify:  `{"isValid":true,"invalidReason":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := strings.Replace(string(doc), tt.replace[0], tt.replace[1], 1)
			require.NotEqual(t, string(doc), mutated)

			resp, data := postJSON(t, server.URL+"/verify", `{"x402Version":1,"paymentHeader":"","paymentRequirements":`+mutated+`}`)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, tt.verify, string(data))
		})
	}

	mutated := strings.Replace(string(doc), `"dueDateMinutes":5`, `"dueDateMinutes":"5"`, 1)
	resp, data := postJSON(t, server.URL+"/settle", `{"x402Version":1,"paymentHeader":"","paymentRequirements":`+mutated+`}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"success":false`)
	assert.Contains(t, string(data), "invalid kudo extra")
	assert.Equal(t, 0, scheme.count())
}

func TestFacilitatorRoutes_SettleWithoutParams(t *testing.T) {
	scheme := &recordingScheme{}
	server := newFacilitatorServer(t, scheme)

	req, err := kudoserver.NewKudoEvmServer(kudoserver.Config{Asset: kudoContract}).Requirements("/post_tweet")
	require.NoError(t, err)
	body, err := json.Marshal(x402.SettleRequest{X402Version: 1, PaymentRequirements: req})
	require.NoError(t, err)

	resp, data := postJSON(t, server.URL+"/settle", string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":false,"error":"missing kudoPaymentParams","txHash":null,"networkId":null}`, string(data))
	assert.Equal(t, 0, scheme.count())
}

func TestFacilitatorRoutes_SettleAcceptsStringVersion(t *testing.T) {
	scheme := &recordingScheme{}
	server := newFacilitatorServer(t, scheme)

	challenge, err := kudoserver.NewKudoEvmServer(kudoserver.Config{Asset: kudoContract}).Requirements("/post_tweet")
	require.NoError(t, err)
	signed, err := newPayer(t).Sign(context.Background(), challenge)
	require.NoError(t, err)
	doc, err := json.Marshal(signed)
	require.NoError(t, err)

	resp, data := postJSON(t, server.URL+"/settle", `{"x402Version":"1.0","paymentHeader":"","paymentRequirements":`+string(doc)+`}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"error":null,"txHash":"0xabc","networkId":"84532"}`, string(data))
	require.Equal(t, 1, scheme.count())
	assert.Equal(t, "10000", scheme.settled[0].DebtAmount)
}

func TestFacilitatorRoutes_SupportedHealthAndInfo(t *testing.T) {
	server := newFacilitatorServer(t, &recordingScheme{})

	resp, err := http.Get(server.URL + "/supported")
	require.NoError(t, err)
	var supported x402.SupportedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&supported))
	resp.Body.Close()
	assert.Equal(t, []x402.SupportedKind{{X402Version: 1, Scheme: "kudo", Network: "base-sepolia"}}, supported.Kinds)

	for _, path := range []string{"/health", "/", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

// TestEndToEnd walks an agent through challenge, payment, delivery and
// settlement across a real facilitator and resource server
func TestEndToEnd(t *testing.T) {
	scheme := &recordingScheme{}
	facilitatorServer := newFacilitatorServer(t, scheme)

	var settledArtifact string
	var mu sync.Mutex
	gate, err := x402.NewPaymentGate(
		x402.WithFacilitatorClient(x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{URL: facilitatorServer.URL})),
		x402.WithRequirements(kudoserver.NewKudoEvmServer(kudoserver.Config{Asset: kudoContract})),
	)
	require.NoError(t, err)
	gate.OnAfterSettle(func(sc x402.SettledContext) error {
		mu.Lock()
		defer mu.Unlock()
		settledArtifact = sc.Artifact
		return nil
	})

	r := NewEngine(nil)
	r.POST("/post_tweet", PaymentMiddleware(gate), func(c *gin.Context) {
		x402.RecordArtifact(c.Request.Context(), "https://twitter.com/kudo/status/42")
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	r.POST("/search_tweets", PaymentMiddleware(gate), func(c *gin.Context) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
	})
	resourceServer := httptest.NewServer(r)
	defer resourceServer.Close()

	// Unpaid request is challenged
	resp, data := postJSON(t, resourceServer.URL+"/post_tweet", `{"text":"hello"}`)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, string(data), `"scheme":"kudo"`)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	// Paying client answers the challenge
	client := x402http.WrapHTTPClientWithPayment(resourceServer.Client(), newPayer(t))
	paid, err := client.Post(resourceServer.URL+"/post_tweet", "application/json", strings.NewReader(`{"text":"hello"}`))
	require.NoError(t, err)
	paid.Body.Close()

	assert.Equal(t, http.StatusOK, paid.StatusCode)
	assert.Equal(t, 1, scheme.count())
	mu.Lock()
	assert.Equal(t, "https://twitter.com/kudo/status/42", settledArtifact)
	mu.Unlock()

	// A failing handler is never settled
	failed, err := client.Post(resourceServer.URL+"/search_tweets", "application/json", strings.NewReader(`{"query":"x"}`))
	require.NoError(t, err)
	failed.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, failed.StatusCode)
	assert.Equal(t, 1, scheme.count())
}
