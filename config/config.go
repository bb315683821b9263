// Package config builds one explicit configuration structure per service
// from the environment. A .env file is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// LoadDotEnv loads environment files, tolerating missing ones. Variables
// already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func newViper(defaults map[string]interface{}) *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Log configures the process logger
type Log struct {
	Level  string
	Format string
}

func loadLog(v *viper.Viper) Log {
	return Log{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}
}

var logDefaults = map[string]interface{}{
	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "text",
}

// Logger builds a slog logger writing to w
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Idempotency store kinds
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Facilitator configures the verify/settle service
type Facilitator struct {
	Port            int
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	Network         string
	AgentID         int64
	ReceiptTimeout  time.Duration

	IdempotencyStore string
	IdempotencyDB    string
	IdempotencyTTL   time.Duration

	Log Log
}

// LoadFacilitator reads and validates the facilitator configuration
func LoadFacilitator() (*Facilitator, error) {
	v := newViper(merge(logDefaults, map[string]interface{}{
		"PORT":              3000,
		"NETWORK":           "base-sepolia",
		"AGENT_ID":          evm.DefaultAgentID,
		"RECEIPT_TIMEOUT":   "60s",
		"IDEMPOTENCY_STORE": StoreNone,
		"IDEMPOTENCY_DB":    "settlements.db",
		"IDEMPOTENCY_TTL":   "1h",
	}))

	cfg := &Facilitator{
		Port:             v.GetInt("PORT"),
		RPCURL:           v.GetString("RPC_URL"),
		PrivateKey:       v.GetString("PRIVATE_KEY"),
		ContractAddress:  v.GetString("CONTRACT_ADDRESS"),
		Network:          v.GetString("NETWORK"),
		AgentID:          v.GetInt64("AGENT_ID"),
		ReceiptTimeout:   v.GetDuration("RECEIPT_TIMEOUT"),
		IdempotencyStore: strings.ToLower(v.GetString("IDEMPOTENCY_STORE")),
		IdempotencyDB:    v.GetString("IDEMPOTENCY_DB"),
		IdempotencyTTL:   v.GetDuration("IDEMPOTENCY_TTL"),
		Log:              loadLog(v),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first missing or malformed setting
func (c *Facilitator) Validate() error {
	switch {
	case c.RPCURL == "":
		return missing("RPC_URL")
	case c.PrivateKey == "":
		return missing("PRIVATE_KEY")
	case !evm.IsValidAddress(c.ContractAddress):
		return invalid("CONTRACT_ADDRESS", c.ContractAddress)
	case c.Port <= 0:
		return invalid("PORT", fmt.Sprint(c.Port))
	}
	switch c.IdempotencyStore {
	case StoreNone, StoreMemory, StoreSQLite:
	default:
		return invalid("IDEMPOTENCY_STORE", c.IdempotencyStore)
	}
	return nil
}

// Twitter configures the Twitter API client
type Twitter struct {
	BaseURL      string
	AccessToken  string
	ClientID     string
	ClientSecret string
	Username     string
}

// ResourceServer configures the paywalled Twitter server
type ResourceServer struct {
	Port              int
	FacilitatorURL    string
	KudoAddress       string
	PayTo             string
	Network           string
	MaxAmountRequired string
	PaymentAmount     string
	DueDateMinutes    int
	MaxTimeoutSeconds int

	// RPCURL and PrivateKey enable delivery proofs; both or neither
	RPCURL     string
	PrivateKey string

	Twitter Twitter

	// FacilitatorSettleTimeout bounds each /settle call; TaskTimeout must
	// not be shorter
	FacilitatorSettleTimeout time.Duration

	TaskWorkers int
	TaskTimeout time.Duration

	Log Log
}

var resourceDefaults = map[string]interface{}{
	"PORT":                3000,
	"PAY_TO":              "0x1BAB12dd29E89455752613055EC6036eD6c17ccf",
	"NETWORK":             "base-sepolia",
	"MAX_AMOUNT_REQUIRED": "100000000000000",
	"PAYMENT_AMOUNT":      "0.01 USDC",
	"DUE_DATE_MIN":        5,
	"MAX_TIMEOUT_SECONDS": 30,
	"TWITTER_USERNAME":    "i",
	"TASK_WORKERS":        2,
	"TASK_TIMEOUT":        "3m",

	"FACILITATOR_SETTLE_TIMEOUT": "2m",
}

func loadResourceServer(v *viper.Viper) ResourceServer {
	return ResourceServer{
		Port:              v.GetInt("PORT"),
		FacilitatorURL:    v.GetString("FACILITATOR_URL"),
		KudoAddress:       v.GetString("KUDO_ADDRESS"),
		PayTo:             v.GetString("PAY_TO"),
		Network:           v.GetString("NETWORK"),
		MaxAmountRequired: v.GetString("MAX_AMOUNT_REQUIRED"),
		PaymentAmount:     v.GetString("PAYMENT_AMOUNT"),
		DueDateMinutes:    v.GetInt("DUE_DATE_MIN"),
		MaxTimeoutSeconds: v.GetInt("MAX_TIMEOUT_SECONDS"),
		RPCURL:            v.GetString("RPC_URL"),
		PrivateKey:        v.GetString("PRIVATE_KEY"),
		Twitter: Twitter{
			BaseURL:      v.GetString("TWITTER_API_URL"),
			AccessToken:  v.GetString("TWITTER_ACCESS_TOKEN"),
			ClientID:     v.GetString("TWITTER_CLIENT_ID"),
			ClientSecret: v.GetString("TWITTER_CLIENT_SECRET"),
			Username:     v.GetString("TWITTER_USERNAME"),
		},
		FacilitatorSettleTimeout: v.GetDuration("FACILITATOR_SETTLE_TIMEOUT"),
		TaskWorkers:              v.GetInt("TASK_WORKERS"),
		TaskTimeout:              v.GetDuration("TASK_TIMEOUT"),
		Log:                      loadLog(v),
	}
}

// LoadResourceServer reads and validates the resource server configuration
func LoadResourceServer() (*ResourceServer, error) {
	cfg := loadResourceServer(newViper(merge(logDefaults, resourceDefaults)))
	return &cfg, cfg.Validate()
}

// ProofsEnabled reports whether delivery proofs can be attached
func (c *ResourceServer) ProofsEnabled() bool {
	return c.RPCURL != "" && c.PrivateKey != ""
}

// Validate reports the first missing or malformed setting
func (c *ResourceServer) Validate() error {
	switch {
	case c.FacilitatorURL == "":
		return missing("FACILITATOR_URL")
	case c.KudoAddress == "":
		return missing("KUDO_ADDRESS")
	case !evm.IsValidAddress(c.KudoAddress):
		return invalid("KUDO_ADDRESS", c.KudoAddress)
	case !evm.IsValidAddress(c.PayTo):
		return invalid("PAY_TO", c.PayTo)
	case (c.RPCURL == "") != (c.PrivateKey == ""):
		return errors.New("config: RPC_URL and PRIVATE_KEY must be set together")
	case c.Twitter.AccessToken == "" && (c.Twitter.ClientID == "" || c.Twitter.ClientSecret == ""):
		return missing("TWITTER_ACCESS_TOKEN")
	case c.Port <= 0:
		return invalid("PORT", fmt.Sprint(c.Port))
	case c.TaskTimeout > 0 && c.TaskTimeout < c.FacilitatorSettleTimeout:
		return fmt.Errorf("config: TASK_TIMEOUT (%s) is shorter than FACILITATOR_SETTLE_TIMEOUT (%s)",
			c.TaskTimeout, c.FacilitatorSettleTimeout)
	}
	return nil
}

// MCP configures the MCP tool server
type MCP struct {
	ResourceServer
	SSEPath string
}

// LoadMCP reads and validates the MCP server configuration
func LoadMCP() (*MCP, error) {
	v := newViper(merge(logDefaults, resourceDefaults, map[string]interface{}{
		"MCP_SSE_PATH": "/sse",
	}))
	cfg := &MCP{
		ResourceServer: loadResourceServer(v),
		SSEPath:        v.GetString("MCP_SSE_PATH"),
	}
	return cfg, cfg.Validate()
}

// Receipts configures the payment receipts service
type Receipts struct {
	Port            int
	RPCURL          string
	RegistryAddress string
	StartBlock      uint64
	IPFSURL         string
	IPFSConcurrency int

	Log Log
}

// LoadReceipts reads and validates the receipts configuration
func LoadReceipts() (*Receipts, error) {
	v := newViper(merge(logDefaults, map[string]interface{}{
		"PORT":             3000,
		"START_BLOCK":      0,
		"IPFS_URL":         "https://ipfs.io",
		"IPFS_CONCURRENCY": 8,
	}))
	cfg := &Receipts{
		Port:            v.GetInt("PORT"),
		RPCURL:          v.GetString("RPC_URL"),
		RegistryAddress: v.GetString("REPUTATION_REGISTRY_ADDRESS"),
		StartBlock:      v.GetUint64("START_BLOCK"),
		IPFSURL:         v.GetString("IPFS_URL"),
		IPFSConcurrency: v.GetInt("IPFS_CONCURRENCY"),
		Log:             loadLog(v),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first missing or malformed setting
func (c *Receipts) Validate() error {
	switch {
	case c.RPCURL == "":
		return missing("RPC_URL")
	case c.RegistryAddress == "":
		return missing("REPUTATION_REGISTRY_ADDRESS")
	case !evm.IsValidAddress(c.RegistryAddress):
		return invalid("REPUTATION_REGISTRY_ADDRESS", c.RegistryAddress)
	case c.Port <= 0:
		return invalid("PORT", fmt.Sprint(c.Port))
	}
	return nil
}

func missing(key string) error {
	return fmt.Errorf("config: %s is required", key)
}

func invalid(key, value string) error {
	return fmt.Errorf("config: invalid %s %q", key, value)
}

func merge(maps ...map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
