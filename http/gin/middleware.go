// Package gin adapts the x402 payment gate and facilitator to gin.
package gin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// MiddlewareOptions configures PaymentMiddleware
type MiddlewareOptions struct {
	Logger *slog.Logger
	// Resource overrides the resource reported in challenges. Defaults to
	// the request path.
	Resource string
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*MiddlewareOptions)

// WithLogger sets the logger for handler panics
func WithLogger(logger *slog.Logger) Options {
	return func(o *MiddlewareOptions) {
		o.Logger = logger
	}
}

// WithResource pins the resource instead of using the request path
func WithResource(resource string) Options {
	return func(o *MiddlewareOptions) {
		o.Resource = resource
	}
}

// PaymentMiddleware guards the remaining handler chain with gate. The chain
// succeeds when it neither panics nor leaves a status of 400 or above, and
// only then is the payment settled.
func PaymentMiddleware(gate *x402.PaymentGate, opts ...Options) gin.HandlerFunc {
	options := &MiddlewareOptions{Logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		resource := options.Resource
		if resource == "" {
			resource = c.Request.URL.Path
		}

		rejection := gate.Run(c.Request.Context(), c.GetHeader(x402.PaymentHeaderName), resource, func(ctx context.Context) (ok bool) {
			defer func() {
				if p := recover(); p != nil {
					options.Logger.Error("protected handler panicked", "resource", resource, "panic", fmt.Sprint(p))
					if !c.Writer.Written() {
						c.AbortWithStatusJSON(http.StatusInternalServerError, x402.ErrorBody{Error: "Internal server error"})
					} else {
						c.Abort()
					}
					ok = false
				}
			}()

			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return c.Writer.Status() < http.StatusBadRequest
		})

		if rejection != nil {
			c.AbortWithStatusJSON(rejection.StatusCode, rejection.Body)
		}
	}
}
