package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/kudoprotocol/kudo-x402/config"
	"github.com/kudoprotocol/kudo-x402/receipts"
)

func receiptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipts",
		Short: "Serve payment receipts recorded in the reputation registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(cmd); err != nil {
				return err
			}
			cfg, err := config.LoadReceipts()
			if err != nil {
				return err
			}
			logger := cfg.Log.Logger(os.Stdout)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client, err := ethclient.DialContext(ctx, cfg.RPCURL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
			}
			defer client.Close()

			reader, err := receipts.NewReader(client, cfg.RegistryAddress,
				receipts.WithStartBlock(cfg.StartBlock),
				receipts.WithIPFSURL(cfg.IPFSURL),
				receipts.WithConcurrency(cfg.IPFSConcurrency),
				receipts.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			return serve(ctx, logger, "receipts", cfg.Port, receipts.NewServer(reader, logger))
		},
	}
}
