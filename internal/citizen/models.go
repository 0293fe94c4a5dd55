// Package citizen holds the registry of people certificates are issued for.
package citizen

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	dErrors "cabildo/pkg/domain-errors"
)

// DocumentType identifies the Colombian identity document kind.
type DocumentType string

const (
	DocumentCC DocumentType = "CC" // cédula de ciudadanía
	DocumentTI DocumentType = "TI" // tarjeta de identidad
	DocumentRC DocumentType = "RC" // registro civil
)

// ParseDocumentType validates a document type string (case-insensitive).
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(strings.ToUpper(strings.TrimSpace(s))) {
	case DocumentCC:
		return DocumentCC, nil
	case DocumentTI:
		return DocumentTI, nil
	case DocumentRC:
		return DocumentRC, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown document type")
}

// NormalizeDocumentNumber strips formatting (spaces, dots, hyphens) and
// validates the result: digits only, 5 to 20 characters.
func NormalizeDocumentNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == ' ':
			// formatting characters people type into document fields
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "document number must contain only digits")
		}
	}
	number := b.String()
	if len(number) < 5 || len(number) > 20 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "document number must be 5 to 20 digits")
	}
	return number, nil
}

// Citizen is a registry entry.
type Citizen struct {
	ID             int64
	PublicID       uuid.UUID
	FullName       string
	DocumentType   DocumentType
	DocumentNumber string
	BirthDate      *time.Time
	Active         bool
	CreatedAt      time.Time
}

// MaskedDocumentNumber hides all but the last three digits for public
// responses.
func (c *Citizen) MaskedDocumentNumber() string {
	last := c.DocumentNumber
	if len(last) > 3 {
		last = last[len(last)-3:]
	}
	return "********" + last
}

// HasBirthDate reports whether the entry can answer the birthdate challenge.
func (c *Citizen) HasBirthDate() bool {
	return c.BirthDate != nil
}

// MatchesBirthDate compares a challenge answer against the registered birth
// date by calendar day.
func (c *Citizen) MatchesBirthDate(answer time.Time) bool {
	if c.BirthDate == nil {
		return false
	}
	y1, m1, d1 := c.BirthDate.Date()
	y2, m2, d2 := answer.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (c *Citizen) validate() error {
	if strings.TrimSpace(c.FullName) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "full name is required")
	}
	if _, err := ParseDocumentType(string(c.DocumentType)); err != nil {
		return err
	}
	if _, err := NormalizeDocumentNumber(c.DocumentNumber); err != nil {
		return fmt.Errorf("document number: %w", err)
	}
	return nil
}
