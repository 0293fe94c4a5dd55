package admin

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	dErrors "cabildo/pkg/domain-errors"
)

// MinTempPasswordLength is the floor for generated provisional passwords.
const MinTempPasswordLength = 10

// HashPassword produces a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces the account password policy: minimum length, no
// whitespace, at least one letter and one digit.
func ValidatePassword(password string, minLength int) error {
	if minLength <= 0 {
		minLength = 8
	}
	if len(password) < minLength {
		return dErrors.Newf(dErrors.CodeInvalidInput, "password must be at least %d characters", minLength)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return dErrors.New(dErrors.CodeInvalidInput, "password must not contain whitespace")
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return dErrors.New(dErrors.CodeInvalidInput, "password must contain at least one letter and one digit")
	}
	return nil
}

const (
	tempUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempLower   = "abcdefghijkmnpqrstuvwxyz"
	tempDigits  = "23456789"
	tempSymbols = "!@#$%&*+-_"
)

// GenerateTempPassword builds a random provisional password with at least one
// character from each class. Ambiguous characters (O/0, l/1) are excluded.
func GenerateTempPassword(length int) (string, error) {
	if length < MinTempPasswordLength {
		length = MinTempPasswordLength
	}

	all := tempUpper + tempLower + tempDigits + tempSymbols
	chars := make([]byte, 0, length)
	for _, class := range []string{tempUpper, tempLower, tempDigits, tempSymbols} {
		c, err := randomByte(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randomByte(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates so the guaranteed class characters are not predictable
	// prefix positions.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars), nil
}

func randomByte(alphabet string) (byte, error) {
	i, err := randomIndex(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("generate random index: %w", err)
	}
	return int(v.Int64()), nil
}

// NormalizeUsername trims surrounding whitespace and lowercases the username
// so lookups and ledger keys are consistent.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
