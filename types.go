package x402

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// X402Version is the protocol version emitted by this module
const X402Version = 1

// SchemeKudo is the covenant-minting payment scheme
const SchemeKudo = "kudo"

// Network identifies a target chain by name (e.g. "base-sepolia").
// The value "*" matches every network.
type Network string

// Match reports whether n matches pattern, honouring the "*" wildcard
func (n Network) Match(pattern Network) bool {
	return n == pattern || pattern == "*" || n == "*"
}

// Version is an x402 protocol version. Callers send it either as a JSON
// number or as a numeric string such as "1.0".
type Version int

// UnmarshalJSON accepts 1, 1.0 and "1.0"
func (v *Version) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*v = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid x402Version %q", raw)
	}
	*v = Version(int(f))
	return nil
}

// PaymentRequirements describes what a caller must pay to access a resource.
// A challenge is echoed back unmodified apart from the signature carried in
// Extra.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           Network         `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	OutputSchema      json.RawMessage `json:"outputSchema"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	Extra             *PaymentExtra   `json:"extra"`
}

// paymentRequirementsWire avoids recursion in the custom codec
type paymentRequirementsWire struct {
	Scheme            string          `json:"scheme"`
	Network           Network         `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	OutputSchema      json.RawMessage `json:"outputSchema"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	Extra             json.RawMessage `json:"extra"`
}

// UnmarshalJSON decodes extra according to the scheme, so the rest of the
// module only ever sees typed values.
func (r *PaymentRequirements) UnmarshalJSON(data []byte) error {
	var w paymentRequirementsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	extra, err := decodeExtra(w.Scheme, w.Extra)
	if err != nil {
		return err
	}

	outputSchema := w.OutputSchema
	if bytes.Equal(bytes.TrimSpace(outputSchema), []byte("null")) {
		outputSchema = nil
	}

	*r = PaymentRequirements{
		Scheme:            w.Scheme,
		Network:           w.Network,
		MaxAmountRequired: w.MaxAmountRequired,
		Resource:          w.Resource,
		Description:       w.Description,
		MimeType:          w.MimeType,
		OutputSchema:      outputSchema,
		PayTo:             w.PayTo,
		MaxTimeoutSeconds: w.MaxTimeoutSeconds,
		Asset:             w.Asset,
		Extra:             extra,
	}
	return nil
}

// MarshalJSON keeps outputSchema as an explicit null when unset
func (r PaymentRequirements) MarshalJSON() ([]byte, error) {
	w := paymentRequirementsWire{
		Scheme:            r.Scheme,
		Network:           r.Network,
		MaxAmountRequired: r.MaxAmountRequired,
		Resource:          r.Resource,
		Description:       r.Description,
		MimeType:          r.MimeType,
		OutputSchema:      r.OutputSchema,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Asset:             r.Asset,
	}
	if len(w.OutputSchema) == 0 {
		w.OutputSchema = json.RawMessage("null")
	}
	if r.Extra == nil {
		w.Extra = json.RawMessage("null")
	} else {
		extra, err := json.Marshal(r.Extra)
		if err != nil {
			return nil, err
		}
		w.Extra = extra
	}
	return json.Marshal(w)
}

// KudoParams returns the signed covenant parameters, or nil when the
// document carries none.
func (r PaymentRequirements) KudoParams() *KudoPaymentParams {
	if r.Extra == nil || r.Extra.Kudo == nil {
		return nil
	}
	return r.Extra.Kudo.KudoPaymentParams
}

// PaymentExtra is the scheme-specific part of PaymentRequirements.
// Exactly one of Kudo or Raw is set.
type PaymentExtra struct {
	Kudo *KudoExtra
	Raw  json.RawMessage
}

// MarshalJSON emits the typed variant, or the raw payload untouched
func (e PaymentExtra) MarshalJSON() ([]byte, error) {
	if e.Kudo != nil {
		return json.Marshal(e.Kudo)
	}
	if len(e.Raw) == 0 {
		return []byte("null"), nil
	}
	return e.Raw, nil
}

func decodeExtra(scheme string, raw json.RawMessage) (*PaymentExtra, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if scheme != SchemeKudo {
		return &PaymentExtra{Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}

	var kudo KudoExtra
	if err := json.Unmarshal(trimmed, &kudo); err != nil {
		return nil, fmt.Errorf("invalid kudo extra: %w", err)
	}
	return &PaymentExtra{Kudo: &kudo}, nil
}

// KudoExtra is the extra payload of the kudo scheme. The resource server
// fills Amount and DueDateMinutes in the challenge, the paying agent fills
// KudoPaymentParams.
type KudoExtra struct {
	Amount            string             `json:"amount,omitempty"`
	DueDateMinutes    int                `json:"dueDateMinutes,omitempty"`
	KudoPaymentParams *KudoPaymentParams `json:"kudoPaymentParams,omitempty"`
}

// KudoPaymentParams carries the agent's signed covenant
type KudoPaymentParams struct {
	AgentAddr       string    `json:"agentAddr"`
	CovenantPromise string    `json:"covenantPromise"`
	CovenantAsk     string    `json:"covenantAsk"`
	DebtAmount      string    `json:"debtAmount"`
	Signature       Signature `json:"signature"`
}

// Signature is an ECDSA signature split into its components
type Signature struct {
	V SignatureV `json:"v"`
	R string     `json:"r"`
	S string     `json:"s"`
}

// SignatureV is the recovery id. It decodes from a JSON number or string.
type SignatureV uint8

// UnmarshalJSON accepts 27, "27" and "0x1b"
func (v *SignatureV) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	n, err := strconv.ParseUint(raw, 0, 8)
	if err != nil {
		return fmt.Errorf("invalid signature v %q", raw)
	}
	*v = SignatureV(n)
	return nil
}

// PaymentRequired is the body of a 402 challenge
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error"`
}

// VerifyRequest is the body of POST /verify
type VerifyRequest struct {
	X402Version         Version             `json:"x402Version"`
	PaymentHeader       string              `json:"paymentHeader"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// UnmarshalJSON only fails on malformed JSON. Mistyped fields decode to
// values the validator rejects with the matching reason.
func (r *VerifyRequest) UnmarshalJSON(data []byte) error {
	req, err := decodeFacilitatorRequest(data)
	if err != nil {
		return err
	}
	*r = VerifyRequest(req)
	return nil
}

// SettleRequest is the body of POST /settle
type SettleRequest struct {
	X402Version         Version             `json:"x402Version"`
	PaymentHeader       string              `json:"paymentHeader"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// UnmarshalJSON decodes like VerifyRequest. A kudo extra that does not
// decode is kept raw and reported by Settle.
func (r *SettleRequest) UnmarshalJSON(data []byte) error {
	req, err := decodeFacilitatorRequest(data)
	if err != nil {
		return err
	}
	*r = SettleRequest(req)
	return nil
}

type facilitatorRequest struct {
	X402Version         Version
	PaymentHeader       string
	PaymentRequirements PaymentRequirements
}

type facilitatorRequestWire struct {
	X402Version         json.RawMessage `json:"x402Version"`
	PaymentHeader       json.RawMessage `json:"paymentHeader"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

func decodeFacilitatorRequest(data []byte) (facilitatorRequest, error) {
	var w facilitatorRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return facilitatorRequest{}, err
	}

	var req facilitatorRequest
	if err := json.Unmarshal(w.X402Version, &req.X402Version); err != nil {
		req.X402Version = 0
	}
	req.PaymentHeader = looseString(w.PaymentHeader)
	req.PaymentRequirements = decodeRequirementsLoosely(w.PaymentRequirements)
	return req, nil
}

// decodeRequirementsLoosely never fails. A field of the wrong JSON type is
// treated as absent, so ValidateRequirements reports it in check order.
func decodeRequirementsLoosely(data json.RawMessage) PaymentRequirements {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return PaymentRequirements{}
	}

	req := PaymentRequirements{
		Scheme:            looseString(fields["scheme"]),
		Network:           Network(looseString(fields["network"])),
		MaxAmountRequired: looseAmount(fields["maxAmountRequired"]),
		Resource:          looseString(fields["resource"]),
		Description:       looseString(fields["description"]),
		MimeType:          looseString(fields["mimeType"]),
		PayTo:             looseString(fields["payTo"]),
		MaxTimeoutSeconds: looseSeconds(fields["maxTimeoutSeconds"]),
		Asset:             looseString(fields["asset"]),
	}
	if schema := bytes.TrimSpace(fields["outputSchema"]); len(schema) > 0 && !bytes.Equal(schema, []byte("null")) {
		req.OutputSchema = append(json.RawMessage(nil), schema...)
	}

	extra, err := decodeExtra(req.Scheme, fields["extra"])
	if err != nil {
		extra = &PaymentExtra{Raw: append(json.RawMessage(nil), bytes.TrimSpace(fields["extra"])...)}
	}
	req.Extra = extra
	return req
}

func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// looseAmount keeps a non-string amount as its JSON text, so an integer
// literal still parses and anything else fails the format check.
func looseAmount(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// looseSeconds returns 0 for anything but a whole JSON number
func looseSeconds(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}

// extraError reports why a kudo document's extra could not be decoded
func (r PaymentRequirements) extraError() error {
	if r.Scheme != SchemeKudo || r.Extra == nil || r.Extra.Kudo != nil {
		return nil
	}
	_, err := decodeExtra(SchemeKudo, r.Extra.Raw)
	return err
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason"`
}

// SettleResponse contains the settlement result
type SettleResponse struct {
	Success   bool    `json:"success"`
	Error     *string `json:"error"`
	TxHash    *string `json:"txHash"`
	NetworkID *string `json:"networkId"`
}

// Valid returns a successful verification result
func Valid() VerifyResponse {
	return VerifyResponse{IsValid: true}
}

// Invalid returns a failed verification result with reason
func Invalid(reason string) VerifyResponse {
	return VerifyResponse{IsValid: false, InvalidReason: &reason}
}

// Reason returns the invalid reason or an empty string
func (r VerifyResponse) Reason() string {
	if r.InvalidReason == nil {
		return ""
	}
	return *r.InvalidReason
}

// Settled returns a successful settlement result
func Settled(txHash, networkID string) SettleResponse {
	return SettleResponse{Success: true, TxHash: &txHash, NetworkID: &networkID}
}

// SettlementFailed returns a failed settlement result
func SettlementFailed(reason string) SettleResponse {
	return SettleResponse{Success: false, Error: &reason}
}

// ErrorMessage returns the settlement error or an empty string
func (r SettleResponse) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Transaction returns the settlement tx hash or an empty string
func (r SettleResponse) Transaction() string {
	if r.TxHash == nil {
		return ""
	}
	return *r.TxHash
}

// SupportedKind describes one scheme/network pair the facilitator settles
type SupportedKind struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
}

// SupportedResponse is the body of GET /supported
type SupportedResponse struct {
	Kinds   []SupportedKind     `json:"kinds"`
	Signers map[string][]string `json:"signers"`
}
