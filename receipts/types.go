package receipts

import "math/big"

// PaymentReceipt is the feedback file an agent pins to IPFS after being paid
type PaymentReceipt struct {
	AgentRegistry  string         `json:"agentRegistry"`
	AgentID        int64          `json:"agentId"`
	ClientAddress  string         `json:"clientAddress"`
	CreatedAt      string         `json:"createdAt"`
	FeedbackAuth   string         `json:"feedbackAuth"`
	Score          int            `json:"score"`
	Tag1           string         `json:"tag1"`
	Tag2           string         `json:"tag2"`
	Skill          string         `json:"skill"`
	Context        string         `json:"context"`
	Task           string         `json:"task"`
	Capability     string         `json:"capability"`
	Name           string         `json:"name"`
	ProofOfPayment ProofOfPayment `json:"proof_of_payment"`
}

// ProofOfPayment is the facilitator-signed payment record inside a receipt
type ProofOfPayment struct {
	FromAddress string  `json:"fromAddress"`
	ToAddress   string  `json:"toAddress"`
	ChainID     int64   `json:"chainId"`
	TxHash      string  `json:"txHash"`
	Nonce       int64   `json:"nonce"`
	Amount      float64 `json:"amount"`
	Signature   string  `json:"signature"`
	CreatedAt   string  `json:"createdAt"`
	FileURI     string  `json:"fileURI"`
}

// FacilitatorSignature is the split facilitator signature
type FacilitatorSignature struct {
	V int    `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// Receipt is one entry of the receipts response
type Receipt struct {
	FromAddress          string               `json:"fromAddress"`
	ToAddress            string               `json:"toAddress"`
	ChainID              int64                `json:"chainId"`
	TxHash               string               `json:"txHash"`
	CreatedAt            string               `json:"createdAt"`
	AmountUSDC           float64              `json:"amountUSDC"`
	Nonce                int64                `json:"nonce"`
	FacilitatorSignature FacilitatorSignature `json:"facilitatorSignature"`
	FileURI              string               `json:"fileURI,omitempty"`
}

// Response is the body of GET /get_payment_receipts/:agentId
type Response struct {
	AgentID  *big.Int  `json:"agentId"`
	Receipts []Receipt `json:"receipts"`
}

// ToReceipt flattens a stored receipt into the response shape
func ToReceipt(r PaymentReceipt) Receipt {
	p := r.ProofOfPayment
	return Receipt{
		FromAddress:          p.FromAddress,
		ToAddress:            p.ToAddress,
		ChainID:              p.ChainID,
		TxHash:               p.TxHash,
		CreatedAt:            p.CreatedAt,
		AmountUSDC:           p.Amount,
		Nonce:                p.Nonce,
		FacilitatorSignature: ParseFacilitatorSignature(p.Signature),
		FileURI:              p.FileURI,
	}
}
