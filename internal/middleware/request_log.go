package middleware

import (
	"net/http"
	"time"

	"github.com/fieldsync/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус, размер ответа и время выполнения.
// Медленные (>=100ms) и 5xx пишутся на info, остальные только в debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := wrap(w, r)
		next.ServeHTTP(ww, r)
		d := time.Since(start)
		status := ww.Status()
		if status == 0 {
			// заголовки не писались (hijack или пустой ответ)
			status = http.StatusOK
		}
		if d >= 100*time.Millisecond || status >= http.StatusInternalServerError {
			logger.Infof("http %s %s %d %dB %dms", r.Method, r.URL.Path, status, ww.BytesWritten(), d.Milliseconds())
		} else {
			logger.Debugf("http %s %s %d %dB %dms", r.Method, r.URL.Path, status, ww.BytesWritten(), d.Milliseconds())
		}
	})
}
