package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// MiddlewareOption configures the payment middleware
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	logger   *slog.Logger
	resource func(*http.Request) string
}

// WithMiddlewareLogger sets the logger for handler panics
func WithMiddlewareLogger(logger *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = logger
	}
}

// WithResourceFunc overrides how the resource is derived from a request.
// The default is the request path.
func WithResourceFunc(fn func(*http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.resource = fn
	}
}

// PaymentMiddleware guards next with gate. The wrapped handler is
// considered successful when it neither panics nor writes a status of 400
// or above; settlement is only attempted after a successful response.
func PaymentMiddleware(gate *x402.PaymentGate, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		logger:   slog.Default(),
		resource: func(r *http.Request) string { return r.URL.Path },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := cfg.resource(r)
			var recorder *statusRecorder

			rejection := gate.Run(r.Context(), r.Header.Get(x402.PaymentHeaderName), resource, func(ctx context.Context) (ok bool) {
				recorder = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
				defer func() {
					if p := recover(); p != nil {
						cfg.logger.Error("protected handler panicked", "resource", resource, "panic", fmt.Sprint(p))
						if !recorder.wroteHeader {
							writeJSON(recorder, http.StatusInternalServerError, x402.ErrorBody{Error: "Internal server error"})
						}
						ok = false
					}
				}()
				next.ServeHTTP(recorder, r.WithContext(ctx))
				return recorder.status < http.StatusBadRequest
			})

			if rejection != nil {
				writeJSON(w, rejection.StatusCode, rejection.Body)
			}
		})
	}
}

// statusRecorder passes writes through while remembering the status code
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
