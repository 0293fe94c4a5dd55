package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mssola/useragent"

	"cabildo/internal/admin"
	"cabildo/internal/certificate"
	"cabildo/internal/citizen"
	"cabildo/internal/ratelimit"
	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

// AdminHandler serves the operator endpoints behind bearer-token sessions.
type AdminHandler struct {
	admins       *admin.Service
	sessions     *admin.Sessions
	citizens     *citizen.Service
	certificates *certificate.Service
	limiter      *ratelimit.Limiter
	logger       *slog.Logger
}

type accountKey struct{}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type documentRequest struct {
	DocumentNumber string `json:"document_number"`
}

type specialRequest struct {
	DocumentNumber string `json:"document_number"`
	Text           string `json:"text"`
}

// The login endpoint answers every failed attempt with the same message so
// responses never reveal whether an account exists.
const invalidLoginMessage = "invalid username or password"

// Login authenticates an operator and issues a session token. A sliding
// window per client IP sits in front of the lockout ledger.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := requestcontext.ClientIP(ctx)

	if h.limiter != nil {
		if res := h.limiter.Allow(ctx, ip); !res.Allowed {
			writeLocked(w, "too many login attempts from this address", res.RetryAfter)
			return
		}
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.admins.Authenticate(ctx, req.Username, req.Password, ip)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch result.Status {
	case admin.LoginSuccess:
		token, err := h.sessions.Issue(result.Account.Username, requestcontext.Now(ctx))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"token":                token,
			"name":                 result.Account.Name,
			"username":             result.Account.Username,
			"must_change_password": result.MustChangePassword,
		})
	case admin.LoginInvalidInput:
		writeMessage(w, http.StatusBadRequest, "username and password are required")
	case admin.LoginTemporarilyLocked:
		writeLocked(w, lockedMessage, result.RetryAfter)
	case admin.LoginPermanentlyLocked:
		writeLocked(w, "access is blocked; contact an administrator", 0)
	default:
		body := map[string]any{
			"success": false,
			"message": invalidLoginMessage,
		}
		if result.LockedNow && !result.Permanent {
			body["retry_after_seconds"] = retrySeconds(result.RetryAfter)
		} else if !result.LockedNow {
			body["remaining_attempts"] = result.RemainingAttempts
		}
		writeJSON(w, http.StatusUnauthorized, body)
	}
}

// ChangePassword installs a new password for the logged-in operator. It is
// reachable while the forced-change flag is set; everything else is not.
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account := sessionAccount(r)

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.admins.ChangePassword(r.Context(), account.Username, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "password changed")
}

// Me describes the current session; the frontend uses it to decide whether to
// force the password-change screen.
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := sessionAccount(r)
	writeData(w, http.StatusOK, map[string]any{
		"name":                 account.Name,
		"username":             account.Username,
		"must_change_password": account.MustChangePassword,
	})
}

// Logout acknowledges the end of a session. Session tokens are stateless, so
// the client discards the token; the event is logged for the audit trail.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "admin_logout", "username", sessionAccount(r).Username)
	writeMessage(w, http.StatusOK, "logged out")
}

// ValidateCitizen resolves a bare document number for the operator desk.
// Multiple active matches come back as a conflict the operator has to narrow
// down.
func (h *AdminHandler) ValidateCitizen(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.citizens.LookupByNumber(r.Context(), req.DocumentNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"citizen": citizenPayload(c)})
}

// IssueStandard issues (or reuses) the daily certificate through the admin
// channel. The web flow's certificate of the same day is a separate document.
func (h *AdminHandler) IssueStandard(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.citizens.LookupByNumber(r.Context(), req.DocumentNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cert, reused, err := h.certificates.IssueOrReuse(r.Context(), c, certificate.ChannelAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, certificateLinks(cert, reused, h.certificates.IssuedAtLocal(cert)))
}

// IssueSpecial issues a certificate with operator-written text. Special
// certificates are never reused.
func (h *AdminHandler) IssueSpecial(w http.ResponseWriter, r *http.Request) {
	var req specialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.citizens.LookupByNumber(r.Context(), req.DocumentNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cert, err := h.certificates.IssueSpecial(r.Context(), c, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	links := certificateLinks(cert, false, h.certificates.IssuedAtLocal(cert))
	links["custom_text"] = cert.CustomText
	writeData(w, http.StatusOK, links)
}

// ListCertificates is the audit view: issued certificates newest first with
// requester metadata.
func (h *AdminHandler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	certs, err := h.certificates.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(certs))
	for _, cert := range certs {
		items = append(items, map[string]any{
			"code":           cert.Code,
			"kind":           string(cert.Kind),
			"channel":        string(cert.Channel),
			"citizen_id":     cert.CitizenID,
			"issued_at":      h.certificates.IssuedAtLocal(cert),
			"download_count": cert.DownloadCount,
			"requester_ip":   cert.RequesterIP,
			"user_agent":     summarizeUserAgent(cert.UserAgent),
		})
	}
	writeData(w, http.StatusOK, map[string]any{
		"certificates": items,
		"offset":       offset,
		"limit":        limit,
	})
}

// requireSession resolves the bearer token into an account and stores it in
// the request context.
func (h *AdminHandler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := h.sessions.Verify(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		account, err := h.admins.Get(r.Context(), username)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				writeMessage(w, http.StatusUnauthorized, "invalid session token")
				return
			}
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey{}, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePasswordChanged blocks every operation except the password change
// itself while an account still runs on a provisional password.
func (h *AdminHandler) requirePasswordChanged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionAccount(r).MustChangePassword {
			writeMessage(w, http.StatusForbidden, "password change required before using this endpoint")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func sessionAccount(r *http.Request) *admin.Account {
	account, _ := r.Context().Value(accountKey{}).(*admin.Account)
	return account
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// summarizeUserAgent condenses a raw User-Agent header into something an
// operator can read at a glance. Unparseable strings pass through as-is.
func summarizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	summary := name
	if version != "" {
		summary += " " + version
	}
	if os := ua.OS(); os != "" {
		summary += " on " + os
	}
	if ua.Bot() {
		summary += " (bot)"
	}
	return summary
}
