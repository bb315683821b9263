package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient talks to a facilitator service over HTTP.
// It implements x402.FacilitatorClient.
type HTTPFacilitatorClient struct {
	url           string
	httpClient    *http.Client
	authProvider  AuthProvider
	identifier    string
	timeout       time.Duration
	settleTimeout time.Duration
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// StaticAuthProvider sends the same headers to every endpoint
type StaticAuthProvider map[string]string

// GetAuthHeaders implements AuthProvider
func (p StaticAuthProvider) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return AuthHeaders{Verify: p, Settle: p, Supported: p}, nil
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for verify and supported requests (optional, defaults to 30s)
	Timeout time.Duration

	// SettleTimeout for settle requests (optional, defaults to
	// DefaultSettleTimeout). It must cover the facilitator's receipt wait:
	// abandoning a settle mid-wait leaves a sent transaction unreported.
	SettleTimeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is used when no URL is configured
const DefaultFacilitatorURL = "http://localhost:3000"

// DefaultSettleTimeout matches the facilitator's own /settle bound
const DefaultSettleTimeout = 2 * time.Minute

// getSupportedRetries is the number of retry attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
var getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultFacilitatorURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	settleTimeout := config.SettleTimeout
	if settleTimeout == 0 {
		settleTimeout = DefaultSettleTimeout
	}

	// Deadlines are set per request, so a client-wide timeout would cut
	// long settlements short.
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:           url,
		httpClient:    httpClient,
		authProvider:  config.AuthProvider,
		identifier:    identifier,
		timeout:       timeout,
		settleTimeout: settleTimeout,
	}
}

// Identifier names this facilitator in logs
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Verify asks the facilitator to validate the payment document.
// A facilitator that answers with a non-200 status and a JSON body has
// rejected the payment; only transport and decoding failures are errors.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, request x402.VerifyRequest) (*x402.VerifyResponse, error) {
	status, body, err := c.post(ctx, "verify", c.timeout, request, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return nil, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(body, &verifyResponse); err != nil {
		return nil, &x402.FacilitatorError{
			Op:         "verify",
			StatusCode: status,
			Err:        fmt.Errorf("failed to decode verify response: %w", err),
		}
	}

	if status != http.StatusOK && verifyResponse.IsValid {
		return nil, &x402.FacilitatorError{
			Op:         "verify",
			StatusCode: status,
			Err:        fmt.Errorf("unexpected response: %s", string(body)),
		}
	}
	if status != http.StatusOK && verifyResponse.InvalidReason == nil {
		reason := errorField(body)
		if reason == "" {
			reason = fmt.Sprintf("facilitator returned %d", status)
		}
		verifyResponse.InvalidReason = &reason
	}

	return &verifyResponse, nil
}

// Settle asks the facilitator to execute the payment. A failed settlement
// is a normal response with Success false.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, request x402.SettleRequest) (*x402.SettleResponse, error) {
	status, body, err := c.post(ctx, "settle", c.settleTimeout, request, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, &x402.FacilitatorError{
			Op:         "settle",
			StatusCode: status,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(body, &settleResponse); err != nil {
		return nil, &x402.FacilitatorError{
			Op:         "settle",
			StatusCode: status,
			Err:        fmt.Errorf("failed to decode settle response: %w", err),
		}
	}
	return &settleResponse, nil
}

// GetSupported gets supported payment kinds.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		status, responseBody, err := c.getSupportedOnce(ctx)
		if err != nil {
			return x402.SupportedResponse{}, err
		}

		if status == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = &x402.FacilitatorError{
			Op:         "supported",
			StatusCode: status,
			Err:        errors.New(string(responseBody)),
		}

		// Retry on 429 with exponential backoff, except on the last attempt
		if status == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) getSupportedOnce(ctx context.Context) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create supported request: %w", err)
	}
	if err := c.authorize(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &x402.FacilitatorError{Op: "supported", Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}

func (c *HTTPFacilitatorClient) post(ctx context.Context, op string, timeout time.Duration, payload interface{}, pick func(AuthHeaders) map[string]string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+op, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.authorize(ctx, req, pick); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &x402.FacilitatorError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &x402.FacilitatorError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, responseBody, nil
}

func (c *HTTPFacilitatorClient) authorize(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}

// errorField extracts {"error": "..."} from a JSON body
func errorField(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error
}

var _ x402.FacilitatorClient = (*HTTPFacilitatorClient)(nil)
