// Package receipts serves the payment history of an agent: NewFeedback
// events read from the reputation registry, resolved to the receipt files
// they point at on IPFS.
package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// DefaultIPFSURL is the public gateway used when none is configured
const DefaultIPFSURL = "https://ipfs.io"

var (
	fetchFailedCounter = metrics.GetOrRegisterCounter("receipts/ipfs/failed", nil)
	fetchedCounter     = metrics.GetOrRegisterCounter("receipts/ipfs/fetched", nil)
)

// Reader loads payment receipts for an agent
type Reader struct {
	logs        evm.LogFilterer
	registry    common.Address
	abi         abi.ABI
	startBlock  uint64
	ipfsURL     string
	httpClient  *http.Client
	concurrency int
	logger      *slog.Logger
}

// Option configures a Reader
type Option func(*Reader)

// WithStartBlock sets the first block scanned for feedback events
func WithStartBlock(block uint64) Option {
	return func(r *Reader) {
		r.startBlock = block
	}
}

// WithIPFSURL sets the gateway used to resolve ipfs:// URIs
func WithIPFSURL(url string) Option {
	return func(r *Reader) {
		if url != "" {
			r.ipfsURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets the client used to fetch receipt files
func WithHTTPClient(client *http.Client) Option {
	return func(r *Reader) {
		r.httpClient = client
	}
}

// WithConcurrency bounds parallel receipt fetches (default 8)
func WithConcurrency(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader creates a reader over the reputation registry at registry
func NewReader(logs evm.LogFilterer, registry string, opts ...Option) (*Reader, error) {
	if !evm.IsValidAddress(registry) {
		return nil, fmt.Errorf("invalid reputation registry address %q", registry)
	}
	parsed, err := evm.ParseABI(evm.ReputationRegistryABI)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		logs:        logs,
		registry:    common.HexToAddress(registry),
		abi:         parsed,
		ipfsURL:     DefaultIPFSURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		concurrency: 8,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FileURIs returns the receipt URIs of every NewFeedback event for agentID,
// oldest first
func (r *Reader) FileURIs(ctx context.Context, agentID *big.Int) ([]string, error) {
	event := r.abi.Events[evm.EventNewFeedback]
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.startBlock),
		Addresses: []common.Address{r.registry},
		Topics: [][]common.Hash{
			{event.ID},
			{common.BigToHash(agentID)},
		},
	}

	logs, err := r.logs.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s logs: %w", evm.EventNewFeedback, err)
	}
	r.logger.Debug("feedback logs found", "agentId", agentID, "count", len(logs))

	uris := make([]string, 0, len(logs))
	for _, log := range logs {
		decoded, err := evm.DecodeEvent(r.abi, evm.EventNewFeedback, log)
		if err != nil {
			r.logger.Warn("skipping undecodable feedback log", "txHash", log.TxHash.Hex(), "error", err)
			continue
		}
		uri, err := decoded.String("fileuri")
		if err != nil || uri == "" {
			continue
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// PaymentReceipts fetches every receipt of agentID. Receipts that cannot be
// fetched or decoded are logged and left out.
func (r *Reader) PaymentReceipts(ctx context.Context, agentID *big.Int) ([]PaymentReceipt, error) {
	uris, err := r.FileURIs(ctx, agentID)
	if err != nil {
		return nil, err
	}

	fetched := make([]*PaymentReceipt, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, uri := range uris {
		g.Go(func() error {
			receipt, err := r.fetch(gctx, uri)
			if err != nil {
				fetchFailedCounter.Inc(1)
				r.logger.Warn("failed to fetch receipt", "uri", uri, "error", err)
				return nil
			}
			fetchedCounter.Inc(1)
			fetched[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	receipts := make([]PaymentReceipt, 0, len(fetched))
	for _, receipt := range fetched {
		if receipt != nil {
			receipts = append(receipts, *receipt)
		}
	}
	return receipts, nil
}

func (r *Reader) fetch(ctx context.Context, uri string) (*PaymentReceipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.resolve(uri), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}

	var receipt PaymentReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}
	return &receipt, nil
}

// resolve maps ipfs:// URIs and bare CIDs onto the configured gateway
func (r *Reader) resolve(uri string) string {
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		return r.ipfsURL + "/ipfs/" + strings.TrimPrefix(uri, "ipfs://")
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return uri
	default:
		return r.ipfsURL + "/ipfs/" + strings.TrimPrefix(uri, "/")
	}
}
