package middleware

import (
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/walletpay/backend/internal/metrics"
)

// Metrics counts every request by route pattern, method and status.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.RequestsTotal.WithLabelValues(
			r.URL.Path, r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}
