package facilitator

// Settlement failure prefixes reported in SettleResponse.Error
const (
	ErrInvalidDebtAmount     = "invalid debt amount"
	ErrInvalidAgentAddress   = "invalid agent address"
	ErrInvalidSignature      = "invalid signature"
	ErrFailedToMint          = "failed to mint covenant"
	ErrFailedToGetReceipt    = "failed to get transaction receipt"
	ErrTransactionFailed     = "transaction failed"
	ErrFailedToGetChainID    = "failed to get chain id"
	ErrMissingContract       = "kudo contract address not configured"
	ErrMissingContractSigner = "contract signer not configured"
)
