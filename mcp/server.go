package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/twitter"
)

const (
	ServerName    = "twitter-mcp"
	ServerVersion = "1.0.0"
)

var postTweetInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {"type": "string", "description": "The content of your tweet", "maxLength": 280},
    "reply_to_tweet_id": {"type": "string", "description": "Optional: ID of the tweet to reply to"}
  },
  "required": ["text"]
}`)

var searchTweetsInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "count": {"type": "number", "description": "Number of tweets to return (10-100)", "minimum": 10, "maximum": 100}
  },
  "required": ["query"]
}`)

// NewTwitterServer exposes post_tweet and search_tweets as paid MCP tools.
// A nil gate serves them for free.
func NewTwitterServer(tw *twitter.Server, gate *x402.PaymentGate, logger *slog.Logger) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: ServerVersion}, nil)

	wrap := func(_ string, h mcpsdk.ToolHandler) mcpsdk.ToolHandler { return h }
	if gate != nil {
		wrap = NewPaymentWrapper(gate, logger).Wrap
	}

	server.AddTool(&mcpsdk.Tool{
		Name:        "post_tweet",
		Description: "Post a new tweet to Twitter",
		InputSchema: postTweetInputSchema,
	}, wrap("/post_tweet", func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		params, err := twitter.ParsePostTweet(arguments(req))
		if err != nil {
			return errorResult(err)
		}
		result, err := tw.PostTweet(ctx, params)
		if err != nil {
			return errorResult(err)
		}
		return textResult(result, false)
	}))

	server.AddTool(&mcpsdk.Tool{
		Name:        "search_tweets",
		Description: "Search for tweets on Twitter",
		InputSchema: searchTweetsInputSchema,
	}, wrap("/search_tweets", func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		params, err := twitter.ParseSearchTweets(arguments(req))
		if err != nil {
			return errorResult(err)
		}
		result, err := tw.SearchTweets(ctx, params)
		if err != nil {
			return errorResult(err)
		}
		return textResult(result, false)
	}))

	return server
}

// SSEHandler serves server over the SSE transport
func SSEHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return server }, &mcpsdk.SSEOptions{})
}

func arguments(req *mcpsdk.CallToolRequest) []byte {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return []byte("{}")
	}
	return req.Params.Arguments
}

func errorResult(err error) (*mcpsdk.CallToolResult, error) {
	_, body := twitter.ErrorResponse(err)
	return textResult(body, true)
}
