package middleware

import (
	"net/http"
	"time"

	"github.com/chatrelay/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, status и время выполнения (асинхронно, не блокирует).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap, ok := w.(*responseWriter)
		if !ok {
			wrap = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(wrap, r)
		if wrap.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s status=%d dur=%s", r.Method, r.URL.Path, wrap.status, time.Since(start))
			return
		}
		logger.Debugf("http %s %s status=%d dur=%s", r.Method, r.URL.Path, wrap.status, time.Since(start))
	})
}
