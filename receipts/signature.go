package receipts

import (
	"strconv"
	"strings"
)

// ParseFacilitatorSignature splits the trailing 65 bytes of an encoded
// feedback auth into r, s and v. Shorter input yields zero values for the
// missing parts.
func ParseFacilitatorSignature(signature string) FacilitatorSignature {
	hex := strings.TrimPrefix(strings.TrimPrefix(signature, "0x"), "0X")
	if len(hex) > 130 {
		hex = hex[len(hex)-130:]
	}

	part := func(from, to int) string {
		if from >= len(hex) {
			return ""
		}
		if to > len(hex) {
			to = len(hex)
		}
		return hex[from:to]
	}

	sig := FacilitatorSignature{
		R: "0x" + part(0, 64),
		S: "0x" + part(64, 128),
	}
	if v, err := strconv.ParseUint(part(128, 130), 16, 8); err == nil {
		sig.V = int(v)
	}
	return sig
}
