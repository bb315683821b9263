// Package mcp sells tools over the Model Context Protocol.
//
// Tool calls carry their X-PAYMENT header in the request metadata:
//
//	{"_meta": {"headers": {"X-PAYMENT": "<base64 payment document>"}}}
//
// A call without a valid payment is answered with an error result whose text
// is the same JSON body an HTTP client would receive with its 402 or 500.
// Server side:
//
//	server := mcp.NewTwitterServer(twitterServer, gate)
//	http.Handle("/sse", mcp.SSEHandler(server))
//
// Client side:
//
//	session, _ := mcpsdk.NewClient(impl, nil).Connect(ctx, transport, nil)
//	result, err := mcp.NewPayingCaller(session, payer).CallTool(ctx, "post_tweet", args)
package mcp
