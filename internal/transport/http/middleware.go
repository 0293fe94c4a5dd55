package httptransport

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"cabildo/pkg/requestcontext"
)

// RequestContext stamps every request with a single observation time, the
// client metadata, and a request ID. Services read these through
// pkg/requestcontext, which is what lets tests inject fixed clocks.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		ctx = requestcontext.WithClientMetadata(ctx, clientIP(r), r.UserAgent())

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
