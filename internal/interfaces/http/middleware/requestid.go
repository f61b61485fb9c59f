package middleware

import (
	"context"
	"net/http"

	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/pkg/types/common"
)

const maxRequestIDLen = 128

// RequestID propagates the caller's X-Request-ID or assigns a new one. The id
// is echoed on the response and stored in the request context together with
// a logger carrying it.
func RequestID(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(common.HeaderRequestID)
			if id == "" || len(id) > maxRequestIDLen {
				id = common.NewRequestID()
			}
			w.Header().Set(common.HeaderRequestID, id)

			ctx := context.WithValue(r.Context(), common.ContextKeyRequestID, id)
			ctx = logging.WithContext(ctx, logger.With(logging.RequestID(id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(common.ContextKeyRequestID).(string)
	return id
}
