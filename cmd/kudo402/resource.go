package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/config"
	x402http "github.com/kudoprotocol/kudo-x402/http"
	kudoserver "github.com/kudoprotocol/kudo-x402/mechanisms/evm/kudo/server"
	evmsigners "github.com/kudoprotocol/kudo-x402/signers/evm"
	"github.com/kudoprotocol/kudo-x402/tasks"
	"github.com/kudoprotocol/kudo-x402/twitter"
)

func resourceServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resource-server",
		Short: "Serve the Twitter API behind an x402 paywall",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(cmd); err != nil {
				return err
			}
			cfg, err := config.LoadResourceServer()
			if err != nil {
				return err
			}
			logger := cfg.Log.Logger(os.Stdout)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := newTwitterApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return serve(ctx, logger, "resource-server", cfg.Port, app.server.Handler(), app.cleanup...)
		},
	}
}

// twitterApp is the paywalled Twitter service shared by the HTTP and MCP
// commands
type twitterApp struct {
	server  *twitter.Server
	gate    *x402.PaymentGate
	queue   *tasks.Queue
	cleanup []func(context.Context) error
}

func newTwitterApp(ctx context.Context, cfg *config.ResourceServer, logger *slog.Logger) (*twitterApp, error) {
	app, err := buildTwitterApp(ctx, cfg, logger)
	if err != nil {
		if app != nil {
			if cerr := app.close(ctx); cerr != nil {
				logger.Warn("cleanup after failed start", "error", cerr)
			}
		}
		return nil, err
	}
	return app, nil
}

// close runs the cleanups in reverse order of registration
func (a *twitterApp) close(ctx context.Context) error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		errs = append(errs, a.cleanup[i](ctx))
	}
	return errors.Join(errs...)
}

// buildTwitterApp returns the partially built app alongside any error so
// its cleanups can still run
func buildTwitterApp(ctx context.Context, cfg *config.ResourceServer, logger *slog.Logger) (*twitterApp, error) {
	app := &twitterApp{}

	facilitator := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL:           cfg.FacilitatorURL,
		SettleTimeout: cfg.FacilitatorSettleTimeout,
	})
	requirements := kudoserver.NewKudoEvmServer(kudoserver.Config{
		Network:           x402.Network(cfg.Network),
		Asset:             cfg.KudoAddress,
		PayTo:             cfg.PayTo,
		MaxAmountRequired: cfg.MaxAmountRequired,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		Amount:            cfg.PaymentAmount,
		DueDateMinutes:    cfg.DueDateMinutes,
	})

	queue := tasks.NewQueue(
		tasks.WithWorkers(cfg.TaskWorkers),
		tasks.WithTimeout(cfg.TaskTimeout),
		tasks.WithLogger(logger),
	)
	queue.Start(ctx)
	app.queue = queue
	app.cleanup = append(app.cleanup, queue.Shutdown)

	gate, err := x402.NewPaymentGate(
		x402.WithFacilitatorClient(facilitator),
		x402.WithRequirements(requirements),
		x402.WithScheduler(queue),
		x402.WithGateLogger(logger),
		x402.WithTransitionHook(func(t x402.Transition) {
			logger.Debug("payment state", "resource", t.Resource, "state", t.State)
		}),
	)
	if err != nil {
		return app, err
	}
	app.gate = gate

	if cfg.ProofsEnabled() {
		signer, err := evmsigners.DialContractSigner(ctx, cfg.PrivateKey, cfg.RPCURL)
		if err != nil {
			return app, fmt.Errorf("failed to create proof signer: %w", err)
		}
		app.cleanup = append(app.cleanup, func(context.Context) error {
			signer.Close()
			return nil
		})
		recorder := kudoserver.NewProofRecorder(signer, cfg.KudoAddress, kudoserver.WithProofLogger(logger))
		gate.OnAfterSettle(recorder.AfterSettle)
		logger.Info("delivery proofs enabled", "signer", signer.Address())
	}

	client, err := twitter.NewClient(ctx, twitter.Config{
		BaseURL:      cfg.Twitter.BaseURL,
		AccessToken:  cfg.Twitter.AccessToken,
		ClientID:     cfg.Twitter.ClientID,
		ClientSecret: cfg.Twitter.ClientSecret,
	})
	if err != nil {
		return app, err
	}

	app.server = twitter.NewServer(client, gate,
		twitter.WithUsername(cfg.Twitter.Username),
		twitter.WithServerLogger(logger),
	)
	logger.Info("paywall configured",
		"facilitator", facilitator.Identifier(),
		"asset", cfg.KudoAddress,
		"payTo", cfg.PayTo,
		"network", cfg.Network,
	)
	return app, nil
}
