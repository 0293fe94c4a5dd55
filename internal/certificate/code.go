package certificate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// codeAttempts is how many 4-digit-suffix codes are tried before growing the
// suffix to 6 digits.
const codeAttempts = 20

// newCode builds a transcription-friendly certificate code:
// CIP + yyyymmdd + hhmmss (UTC) + a random numeric suffix.
func newCode(now time.Time, suffixDigits int) (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < suffixDigits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("generate code suffix: %w", err)
	}
	return fmt.Sprintf("CIP%s%0*d", now.UTC().Format("20060102150405"), suffixDigits, n), nil
}
