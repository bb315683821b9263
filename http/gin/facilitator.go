package gin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/gin-gonic/gin"

	x402 "github.com/kudoprotocol/kudo-x402"
)

// Facilitator is the core served by the facilitator routes. It is
// implemented by x402.X402Facilitator and idempotency.IdempotentFacilitator.
type Facilitator interface {
	Verify(ctx context.Context, req x402.VerifyRequest) x402.VerifyResponse
	Settle(ctx context.Context, req x402.SettleRequest) x402.SettleResponse
	GetSupported() x402.SupportedResponse
}

// ServiceInfo is returned by GET /
type ServiceInfo struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Network   string   `json:"network,omitempty"`
	Endpoints []string `json:"endpoints"`
}

// RouteOptions configures the facilitator routes
type RouteOptions struct {
	Info           ServiceInfo
	VerifyTimeout  time.Duration
	SettleTimeout  time.Duration
	MetricsEnabled bool
}

// RouteOption configures RegisterFacilitatorRoutes
type RouteOption func(*RouteOptions)

// WithServiceInfo sets the body of GET /
func WithServiceInfo(info ServiceInfo) RouteOption {
	return func(o *RouteOptions) {
		o.Info = info
	}
}

// WithSettleTimeout bounds each /settle call, receipt wait included
func WithSettleTimeout(d time.Duration) RouteOption {
	return func(o *RouteOptions) {
		o.SettleTimeout = d
	}
}

// WithMetrics exposes the metrics registry at GET /metrics
func WithMetrics() RouteOption {
	return func(o *RouteOptions) {
		o.MetricsEnabled = true
	}
}

// RegisterFacilitatorRoutes mounts /verify, /settle, /supported, /health
// and / on r
func RegisterFacilitatorRoutes(r gin.IRoutes, facilitator Facilitator, opts ...RouteOption) {
	options := &RouteOptions{
		Info: ServiceInfo{
			Name:    "kudo-x402-facilitator",
			Version: "1.0.0",
		},
		VerifyTimeout: 30 * time.Second,
		SettleTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Info.Endpoints == nil {
		options.Info.Endpoints = []string{"POST /verify", "POST /settle", "GET /supported", "GET /health"}
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, options.Info)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/supported", func(c *gin.Context) {
		c.JSON(http.StatusOK, facilitator.GetSupported())
	})

	r.POST("/verify", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), options.VerifyTimeout)
		defer cancel()

		var req x402.VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, x402.ErrorBody{Error: "Invalid request body", Message: err.Error()})
			return
		}

		c.JSON(http.StatusOK, facilitator.Verify(ctx, req))
	})

	r.POST("/settle", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), options.SettleTimeout)
		defer cancel()

		var req x402.SettleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, x402.ErrorBody{Error: "Invalid request body", Message: err.Error()})
			return
		}

		c.JSON(http.StatusOK, facilitator.Settle(ctx, req))
	})

	if options.MetricsEnabled {
		r.GET("/metrics", MetricsHandler(metrics.DefaultRegistry))
	}
}

// NewFacilitatorRouter builds a gin engine serving the facilitator routes
func NewFacilitatorRouter(facilitator Facilitator, logger *slog.Logger, opts ...RouteOption) *gin.Engine {
	r := NewEngine(logger)
	RegisterFacilitatorRoutes(r, facilitator, opts...)
	return r
}

type counterSnapshotter interface {
	Snapshot() metrics.CounterSnapshot
}

// MetricsHandler reports every counter in registry as {name: count}
func MetricsHandler(registry metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts := make(map[string]int64)
		registry.Each(func(name string, m interface{}) {
			if counter, ok := m.(counterSnapshotter); ok {
				counts[name] = counter.Snapshot().Count()
			}
		})
		c.JSON(http.StatusOK, gin.H{"counters": counts})
	}
}
