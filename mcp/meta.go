package mcp

import (
	x402 "github.com/kudoprotocol/kudo-x402"
)

// HeadersMetaKey is the _meta entry holding transport-style headers
const HeadersMetaKey = "headers"

// PaymentHeaderFromMeta returns the X-PAYMENT value carried in meta, or ""
func PaymentHeaderFromMeta(meta map[string]any) string {
	headers, ok := meta[HeadersMetaKey].(map[string]any)
	if !ok {
		return ""
	}
	header, _ := headers[x402.PaymentHeaderName].(string)
	return header
}

// WithPaymentHeader returns a copy of meta carrying header
func WithPaymentHeader(meta map[string]any, header string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}

	headers := map[string]any{}
	if existing, ok := meta[HeadersMetaKey].(map[string]any); ok {
		for k, v := range existing {
			headers[k] = v
		}
	}
	headers[x402.PaymentHeaderName] = header
	out[HeadersMetaKey] = headers
	return out
}
