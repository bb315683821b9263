package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/kudoprotocol/kudo-x402"
	x402http "github.com/kudoprotocol/kudo-x402/http"
)

// ToolCaller is the part of an MCP client session used to call tools
type ToolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// PayingCaller calls tools and answers payment challenges once
type PayingCaller struct {
	session ToolCaller
	payer   x402http.Payer
}

// NewPayingCaller wraps session with automatic payment through payer
func NewPayingCaller(session ToolCaller, payer x402http.Payer) *PayingCaller {
	return &PayingCaller{session: session, payer: payer}
}

// CallTool calls name with args. If the tool answers with a payment
// challenge, the offered requirements are signed and the call is repeated
// with the X-PAYMENT header in its metadata.
func (c *PayingCaller) CallTool(ctx context.Context, name string, args any) (*mcpsdk.CallToolResult, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	challenge, ok := ChallengeFromResult(result)
	if !ok {
		return result, nil
	}

	var requirements *x402.PaymentRequirements
	for i := range challenge.Accepts {
		if challenge.Accepts[i].Scheme == c.payer.Scheme() {
			requirements = &challenge.Accepts[i]
			break
		}
	}
	if requirements == nil {
		return nil, fmt.Errorf("%w: %s", x402http.ErrNoAcceptablePayment, c.payer.Scheme())
	}

	header, err := c.payer.CreatePaymentHeader(ctx, *requirements)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment header: %w", err)
	}

	return c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
		Meta:      mcpsdk.Meta(WithPaymentHeader(nil, header)),
	})
}

// ChallengeFromResult extracts a payment challenge from an error result
func ChallengeFromResult(result *mcpsdk.CallToolResult) (x402.PaymentRequired, bool) {
	var challenge x402.PaymentRequired
	if result == nil || !result.IsError || len(result.Content) == 0 {
		return challenge, false
	}
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	if !ok {
		return challenge, false
	}
	if err := json.Unmarshal([]byte(text.Text), &challenge); err != nil {
		return challenge, false
	}
	return challenge, len(challenge.Accepts) > 0
}

// ErrToolFailed is returned by ResultText for error results
var ErrToolFailed = errors.New("mcp: tool returned an error")

// ResultText returns the first text content of a result
func ResultText(result *mcpsdk.CallToolResult) (string, error) {
	if result == nil || len(result.Content) == 0 {
		return "", errors.New("mcp: empty tool result")
	}
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	if !ok {
		return "", errors.New("mcp: tool result is not text")
	}
	if result.IsError {
		return text.Text, fmt.Errorf("%w: %s", ErrToolFailed, text.Text)
	}
	return text.Text, nil
}
