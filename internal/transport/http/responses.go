package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"cabildo/internal/citizen"
	dErrors "cabildo/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; every payload here is a small JSON
// object.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range data {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": status < http.StatusBadRequest,
		"message": message,
	})
}

// writeError renders a domain error through its code. Internal errors keep
// their detail out of the response body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) && code != dErrors.CodeInternal {
		message = de.Message
	}
	if code == dErrors.CodeInternal {
		slog.ErrorContext(r.Context(), "request_failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeMessage(w, status, message)
}

// writeLocked renders a lockout or rate-limit rejection. A zero retryAfter
// means the lock is permanent and no Retry-After header is sent.
func writeLocked(w http.ResponseWriter, message string, retryAfter time.Duration) {
	body := map[string]any{
		"success": false,
		"message": message,
	}
	if retryAfter > 0 {
		seconds := retrySeconds(retryAfter)
		body["retry_after_seconds"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}
	writeJSON(w, http.StatusTooManyRequests, body)
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func decodeJSON(r *http.Request, dst any) error {
	defer io.Copy(io.Discard, r.Body)
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request body must be valid JSON")
	}
	return nil
}

// citizenPayload is the public shape of a registry entry. The document number
// is always masked; full numbers never leave the service.
func citizenPayload(c *citizen.Citizen) map[string]any {
	return map[string]any{
		"public_id":              c.PublicID.String(),
		"full_name":              c.FullName,
		"document_type":          string(c.DocumentType),
		"document_number_masked": c.MaskedDocumentNumber(),
		"active":                 c.Active,
	}
}
