package x402

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/kudoprotocol/kudo-x402/mechanisms/evm"
)

// Reasons reported by ValidateRequirements, in check order
const (
	ReasonMissingScheme         = "Missing payment scheme"
	ReasonMissingNetwork        = "Missing network"
	ReasonInvalidAsset          = "Invalid asset address"
	ReasonInvalidPayTo          = "Invalid payTo address"
	ReasonMissingMaxAmount      = "Missing maxAmountRequired"
	ReasonInvalidMaxAmount      = "Invalid maxAmountRequired format"
	ReasonMissingResource       = "Missing resource URL"
	ReasonMissingDescription    = "Missing description"
	ReasonMissingMimeType       = "Missing mimeType"
	ReasonInvalidMaxTimeoutSecs = "Invalid maxTimeoutSeconds"
)

// ValidateRequirements checks the shape of a payment requirements document.
// The first failing check wins. It never touches chain state and never
// panics; an unexpected failure is reported as an invalid result.
func ValidateRequirements(req PaymentRequirements) (resp VerifyResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = Invalid(fmt.Sprint(r))
		}
	}()

	switch {
	case req.Scheme == "":
		return Invalid(ReasonMissingScheme)
	case req.Network == "":
		return Invalid(ReasonMissingNetwork)
	case !evm.IsValidAddress(req.Asset):
		return Invalid(ReasonInvalidAsset)
	case !evm.IsValidAddress(req.PayTo):
		return Invalid(ReasonInvalidPayTo)
	case req.MaxAmountRequired == "":
		return Invalid(ReasonMissingMaxAmount)
	case !isUint256(req.MaxAmountRequired):
		return Invalid(ReasonInvalidMaxAmount)
	case req.Resource == "":
		return Invalid(ReasonMissingResource)
	case req.Description == "":
		return Invalid(ReasonMissingDescription)
	case req.MimeType == "":
		return Invalid(ReasonMissingMimeType)
	case req.MaxTimeoutSeconds <= 0:
		return Invalid(ReasonInvalidMaxTimeoutSecs)
	}
	return Valid()
}

// isUint256 accepts plain decimal integers in [0, 2^256)
func isUint256(s string) bool {
	if s[0] == '+' || s[0] == '-' {
		return false
	}
	_, err := uint256.FromDecimal(s)
	return err == nil
}
