package middleware

import (
	"log"
	"net/http"
	"time"
)

// statusRecorder captures the status code and body size for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// LoggingMiddleware tulis access log satu baris per request.
// Tenant diambil dari context kalau auth middleware sudah jalan duluan.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		tenant := GetTenantFromContext(r.Context())
		if tenant == "" {
			tenant = "-"
		}
		log.Printf("method=%s path=%s tenant=%s status=%d duration=%s bytes=%d ip=%s",
			r.Method, r.URL.Path, tenant, rec.status, time.Since(start), rec.bytes, r.RemoteAddr)
	})
}
