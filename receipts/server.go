package receipts

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Source loads receipts for an agent. *Reader implements it.
type Source interface {
	PaymentReceipts(ctx context.Context, agentID *big.Int) ([]PaymentReceipt, error)
}

type errorBody struct {
	Error string `json:"error"`
}

// NewServer builds the receipts HTTP service
func NewServer(source Source, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"name":      "kudo-payment-receipts",
			"version":   "1.0.0",
			"endpoints": []string{"GET /get_payment_receipts/:agentId"},
		})
	})

	e.GET("/get_payment_receipts/:agentId", func(c echo.Context) error {
		raw := c.Param("agentId")
		agentID, ok := new(big.Int).SetString(raw, 10)
		if !ok || agentID.Sign() < 0 {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid agentId"})
		}

		stored, err := source.PaymentReceipts(c.Request().Context(), agentID)
		if err != nil {
			logger.Error("failed to fetch payment receipts",
				"agentId", agentID,
				"requestId", c.Response().Header().Get(echo.HeaderXRequestID),
				"error", err,
			)
			return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to fetch payment receipts"})
		}

		resp := Response{AgentID: agentID, Receipts: make([]Receipt, 0, len(stored))}
		for _, r := range stored {
			resp.Receipts = append(resp.Receipts, ToReceipt(r))
		}
		return c.JSON(http.StatusOK, resp)
	})

	return e
}
