package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/config"
	"github.com/kudoprotocol/kudo-x402/extensions/idempotency"
	x402gin "github.com/kudoprotocol/kudo-x402/http/gin"
	kudo "github.com/kudoprotocol/kudo-x402/mechanisms/evm/kudo/facilitator"
	evmsigners "github.com/kudoprotocol/kudo-x402/signers/evm"
)

func facilitatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "facilitator",
		Short: "Verify payment documents and settle them as kudo covenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(cmd); err != nil {
				return err
			}
			cfg, err := config.LoadFacilitator()
			if err != nil {
				return err
			}
			logger := cfg.Log.Logger(os.Stdout)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			signer, err := evmsigners.DialContractSigner(ctx, cfg.PrivateKey, cfg.RPCURL)
			if err != nil {
				return fmt.Errorf("failed to create settlement signer: %w", err)
			}
			defer signer.Close()

			scheme := kudo.NewKudoEvmScheme(signer, cfg.ContractAddress,
				kudo.WithAgentID(cfg.AgentID),
				kudo.WithReceiptTimeout(cfg.ReceiptTimeout),
				kudo.WithLogger(logger),
			)
			if err := scheme.CheckNetwork(ctx, x402.Network(cfg.Network)); err != nil {
				return err
			}

			facilitator := x402.Newx402Facilitator(x402.WithFacilitatorLogger(logger)).
				Register([]x402.Network{x402.Network(cfg.Network)}, scheme)
			withLoggingHooks(facilitator, logger)

			var service x402gin.Facilitator = facilitator
			switch cfg.IdempotencyStore {
			case config.StoreMemory:
				service = idempotency.Wrap(facilitator,
					idempotency.WithStore(idempotency.NewInMemoryStore(cfg.IdempotencyTTL)))
			case config.StoreSQLite:
				store, err := idempotency.NewSQLiteStore(cfg.IdempotencyDB, cfg.IdempotencyTTL, logger)
				if err != nil {
					return err
				}
				defer store.Close()
				service = idempotency.Wrap(facilitator, idempotency.WithStore(store))
			}

			logger.Info("facilitator ready",
				"signer", signer.Address(),
				"contract", cfg.ContractAddress,
				"network", cfg.Network,
				"agentId", cfg.AgentID,
				"idempotency", cfg.IdempotencyStore,
			)

			router := x402gin.NewFacilitatorRouter(service, logger,
				x402gin.WithSettleTimeout(cfg.ReceiptTimeout+cfg.ReceiptTimeout/2),
				x402gin.WithMetrics(),
			)
			return serve(ctx, logger, "facilitator", cfg.Port, router)
		},
	}
}

// withLoggingHooks reports every verify and settle outcome
func withLoggingHooks(f *x402.X402Facilitator, logger *slog.Logger) {
	f.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		logger.Debug("payment verified", "duration", ctx.Duration)
		return nil
	}).OnVerifyFailure(func(ctx x402.FacilitatorVerifyResultContext) error {
		logger.Info("payment rejected", "reason", ctx.Result.Reason(), "duration", ctx.Duration)
		return nil
	}).OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		logger.Info("covenant settled",
			"txHash", ctx.Result.Transaction(),
			"duration", ctx.Duration,
		)
		return nil
	}).OnSettleFailure(func(ctx x402.FacilitatorSettleResultContext) error {
		logger.Warn("settlement failed", "error", ctx.Result.ErrorMessage(), "duration", ctx.Duration)
		return nil
	})
}
