// Package requestid bridges chi's request ID into requestcontext and echoes it back to clients.
package requestid

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"checkpoint/pkg/requestcontext"
)

const Header = "X-Request-ID"

// Middleware must run after chi's middleware.RequestID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := chimw.GetReqID(r.Context())
		if reqID == "" {
			reqID = r.Header.Get(Header)
		}
		if reqID != "" {
			w.Header().Set(Header, reqID)
		}
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
