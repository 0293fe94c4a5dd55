package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cabildo/internal/certificate"
	"cabildo/internal/citizen"
	"cabildo/internal/verification"
)

// PDFRenderer turns a certificate into the downloadable document. When no
// renderer is configured the download endpoint serves the certificate
// metadata as JSON instead.
type PDFRenderer interface {
	Render(ctx context.Context, cert *certificate.Certificate, owner *citizen.Citizen) ([]byte, error)
}

// PublicHandler serves the citizen-facing verification and certificate
// endpoints. None of them require authentication; the lockout ledger is the
// abuse control.
type PublicHandler struct {
	verification *verification.Service
	certificates *certificate.Service
	pdf          PDFRenderer
	logger       *slog.Logger
}

type verifyRequest struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

type birthdateRequest struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	BirthDate      string `json:"birth_date"`
}

type issueRequest struct {
	Token string `json:"token"`
}

const lockedMessage = "too many failed attempts; try again later"

// Verify starts the public flow: it resolves the document and either issues a
// verification token right away or asks for the birthdate challenge.
func (h *PublicHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.verification.VerifyDocument(r.Context(), req.DocumentType, req.DocumentNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch out.Status {
	case verification.StatusLocked:
		writeLocked(w, lockedMessage, out.RetryAfter)
	case verification.StatusRequiresBirthdate:
		writeData(w, http.StatusOK, map[string]any{
			"requires_birthdate": true,
			"citizen":            citizenPayload(out.Citizen),
		})
	default:
		h.writeToken(w, out)
	}
}

// ConfirmBirthdate answers the challenge started by Verify.
func (h *PublicHandler) ConfirmBirthdate(w http.ResponseWriter, r *http.Request) {
	var req birthdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.verification.ConfirmBirthdate(r.Context(), req.DocumentType, req.DocumentNumber, req.BirthDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch out.Status {
	case verification.StatusLocked:
		writeLocked(w, lockedMessage, out.RetryAfter)
	case verification.StatusMismatch:
		if out.RetryAfter > 0 {
			writeLocked(w, lockedMessage, out.RetryAfter)
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success":            false,
			"message":            "the birth date does not match our records",
			"remaining_attempts": out.RemainingAttempts,
		})
	default:
		h.writeToken(w, out)
	}
}

// Issue redeems a verification token and returns the certificate of the day,
// creating it on the first request.
func (h *PublicHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.verification.RedeemToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cert, reused, err := h.certificates.IssueOrReuse(r.Context(), c, certificate.ChannelWeb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, certificateLinks(cert, reused, h.certificates.IssuedAtLocal(cert)))
}

// Validate is the public code check printed on every certificate.
func (h *PublicHandler) Validate(w http.ResponseWriter, r *http.Request) {
	cert, owner, err := h.certificates.Validate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	data := map[string]any{
		"code":           cert.Code,
		"kind":           string(cert.Kind),
		"issued_at":      h.certificates.IssuedAtLocal(cert),
		"download_count": cert.DownloadCount,
		"citizen":        citizenPayload(owner),
	}
	if cert.Kind == certificate.KindSpecial {
		data["custom_text"] = cert.CustomText
	}
	writeData(w, http.StatusOK, map[string]any{"certificate": data})
}

// Download serves the document and records the fetch.
func (h *PublicHandler) Download(w http.ResponseWriter, r *http.Request) {
	cert, owner, err := h.certificates.Validate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	cert, err = h.certificates.RegisterDownload(r.Context(), cert.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.pdf == nil {
		writeData(w, http.StatusOK, map[string]any{
			"certificate": map[string]any{
				"code":           cert.Code,
				"kind":           string(cert.Kind),
				"issued_at":      h.certificates.IssuedAtLocal(cert),
				"download_count": cert.DownloadCount,
				"citizen":        citizenPayload(owner),
			},
		})
		return
	}

	doc, err := h.pdf.Render(r.Context(), cert, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cert.Code+".pdf"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		h.logger.ErrorContext(r.Context(), "pdf_write_failed", "code", cert.Code, "error", err)
	}
}

func (h *PublicHandler) writeToken(w http.ResponseWriter, out verification.Outcome) {
	writeData(w, http.StatusOK, map[string]any{
		"citizen":          citizenPayload(out.Citizen),
		"token":            out.Token,
		"token_expires_in": retrySeconds(out.TokenExpiresIn),
	})
}

func certificateLinks(cert *certificate.Certificate, reused bool, issuedAt string) map[string]any {
	return map[string]any{
		"code":         cert.Code,
		"reused":       reused,
		"issued_at":    issuedAt,
		"download_url": "/api/certificates/" + cert.Code + "/download",
		"validate_url": "/api/certificates/" + cert.Code,
	}
}
