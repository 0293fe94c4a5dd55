// Package certificate implements the issuance engine: daily idempotent
// standard certificates, one-off special certificates with custom text, code
// validation, and download bookkeeping.
package certificate

import (
	"strings"
	"time"
)

// Kind distinguishes the two certificate families.
type Kind string

const (
	// KindStandard is the affiliation certificate, reused within a local day.
	KindStandard Kind = "standard"
	// KindSpecial carries operator-written text and is never reused.
	KindSpecial Kind = "special"
)

// Channel records which flow requested the issuance.
type Channel string

const (
	ChannelWeb   Channel = "web"
	ChannelAdmin Channel = "admin"
)

// maxUserAgentLen bounds the stored raw User-Agent header.
const maxUserAgentLen = 255

// Certificate is an issued document record. DayKey is the local calendar day
// of issuance for standard certificates and nil for special ones; the daily
// reuse constraint hangs off it.
type Certificate struct {
	ID         int64
	Code       string
	CitizenID  int64
	Kind       Kind
	Channel    Channel
	CustomText string
	DayKey     *string

	CreatedAt     time.Time
	DownloadCount int
	DownloadedAt  *time.Time

	RequesterIP string
	UserAgent   string
}

// NormalizeCustomText prepares operator-written text for a special
// certificate: trims, collapses all whitespace runs (including newlines) to
// single spaces, and capitalizes the first rune.
func NormalizeCustomText(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if t == "" {
		return ""
	}
	runes := []rune(t)
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}

// NormalizeCode canonicalizes a user-typed certificate code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func truncateUserAgent(ua string) string {
	if len(ua) > maxUserAgentLen {
		return ua[:maxUserAgentLen]
	}
	return ua
}
