package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// PaymentHeaderName is the request header carrying the payment proof
const PaymentHeaderName = "X-PAYMENT"

// EncodePaymentHeader serializes signed payment requirements into an
// X-PAYMENT value
func EncodePaymentHeader(req PaymentRequirements) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader parses an X-PAYMENT value. Standard and URL-safe
// base64, padded or not, are accepted.
func DecodePaymentHeader(header string) (PaymentRequirements, error) {
	var req PaymentRequirements

	data, err := decodeBase64(strings.TrimSpace(header))
	if err != nil {
		return req, fmt.Errorf("invalid base64 payment header: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid payment header JSON: %w", err)
	}
	return req, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
