package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// PaymentWrapper guards MCP tool handlers with a payment gate
type PaymentWrapper struct {
	gate   *x402.PaymentGate
	logger *slog.Logger
}

// NewPaymentWrapper creates a wrapper around gate
func NewPaymentWrapper(gate *x402.PaymentGate, logger *slog.Logger) *PaymentWrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentWrapper{gate: gate, logger: logger}
}

// Wrap returns a handler that only runs handler once the call's payment is
// verified. The call succeeds when handler returns no error and a result not
// flagged IsError; only then is the payment settled. resource names the tool
// in the challenge, e.g. "/post_tweet".
func (w *PaymentWrapper) Wrap(resource string, handler mcpsdk.ToolHandler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var meta map[string]any
		if req.Params != nil {
			meta = req.Params.Meta
		}

		var (
			result     *mcpsdk.CallToolResult
			handlerErr error
		)
		rejection := w.gate.Run(ctx, PaymentHeaderFromMeta(meta), resource, func(ctx context.Context) (ok bool) {
			defer func() {
				if p := recover(); p != nil {
					w.logger.Error("tool handler panicked", "resource", resource, "panic", fmt.Sprint(p))
					handlerErr = fmt.Errorf("tool %s panicked: %v", resource, p)
					ok = false
				}
			}()
			result, handlerErr = handler(ctx, req)
			return handlerErr == nil && result != nil && !result.IsError
		})

		if rejection != nil {
			return rejectionResult(rejection)
		}
		return result, handlerErr
	}
}

// rejectionResult renders a gate rejection as an MCP error result
func rejectionResult(r *x402.Rejection) (*mcpsdk.CallToolResult, error) {
	body, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rejection: %w", err)
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
	}, nil
}

// textResult renders v as a JSON text result
func textResult(v any, isError bool) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		IsError: isError,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}
