package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/kudoprotocol/kudo-x402"
	"github.com/kudoprotocol/kudo-x402/config"
	"github.com/kudoprotocol/kudo-x402/tasks"
	"github.com/kudoprotocol/kudo-x402/twitter"
)

const kudoContract = "0x2222222222222222222222222222222222222222"

func resourceConfig() *config.ResourceServer {
	return &config.ResourceServer{
		Port:                     3000,
		FacilitatorURL:           "http://127.0.0.1:1",
		KudoAddress:              kudoContract,
		PayTo:                    "0x1BAB12dd29E89455752613055EC6036eD6c17ccf",
		Network:                  "base-sepolia",
		Twitter:                  config.Twitter{AccessToken: "token"},
		FacilitatorSettleTimeout: time.Minute,
		TaskWorkers:              1,
		TaskTimeout:              2 * time.Minute,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noop(context.Context) error { return nil }

func TestBuildTwitterApp(t *testing.T) {
	app, err := buildTwitterApp(context.Background(), resourceConfig(), quietLogger())
	require.NoError(t, err)
	require.NotNil(t, app.server)
	require.NotNil(t, app.gate)
	require.NoError(t, app.close(context.Background()))
}

func TestBuildTwitterApp_FailureKeepsCleanups(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.ResourceServer)
		want   error
	}{
		{name: "gate", mutate: func(c *config.ResourceServer) { c.KudoAddress = "" }, want: x402.ErrMissingAsset},
		{name: "twitter", mutate: func(c *config.ResourceServer) { c.Twitter = config.Twitter{} }, want: twitter.ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := resourceConfig()
			tt.mutate(cfg)

			app, err := buildTwitterApp(context.Background(), cfg, quietLogger())
			require.ErrorIs(t, err, tt.want)
			require.NotNil(t, app)
			require.NotNil(t, app.queue)

			require.NoError(t, app.close(context.Background()))
			assert.ErrorIs(t, app.queue.Schedule("late", noop), tasks.ErrQueueClosed)
		})
	}
}

func TestNewTwitterApp_Failure(t *testing.T) {
	cfg := resourceConfig()
	cfg.KudoAddress = ""

	app, err := newTwitterApp(context.Background(), cfg, quietLogger())
	assert.ErrorIs(t, err, x402.ErrMissingAsset)
	assert.Nil(t, app)
}

func TestTwitterAppClose(t *testing.T) {
	var order []string
	app := &twitterApp{cleanup: []func(context.Context) error{
		func(context.Context) error {
			order = append(order, "queue")
			return errors.New("drain timed out")
		},
		func(context.Context) error {
			order = append(order, "signer")
			return nil
		},
	}}

	err := app.close(context.Background())
	assert.ErrorContains(t, err, "drain timed out")
	assert.Equal(t, []string{"signer", "queue"}, order)
}
