package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fieldsync/internal/logger"
)

// wrap возвращает chi WrapResponseWriter, переиспользуя уже обёрнутый выше по цепочке.
// Обёртка chi сохраняет http.Hijacker, без него websocket upgrade не проходит.
func wrap(w http.ResponseWriter, r *http.Request) chimw.WrapResponseWriter {
	if ww, ok := w.(chimw.WrapResponseWriter); ok {
		return ww
	}
	return chimw.NewWrapResponseWriter(w, r.ProtoMajor)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RecoverJSON превращает панику обработчика в JSON 500, если заголовки ещё не ушли клиенту.
// http.ErrAbortHandler пробрасывается дальше: net/http сам молча рвёт соединение.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := wrap(w, r)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.Errorf("panic recovered: %s %s client=%s: %v", r.Method, r.URL.Path, GetClientID(r.Context()), rec)
			logger.Debugf("panic stack: %s", debug.Stack())
			if ww.Status() == 0 {
				writeJSONError(ww, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(ww, r)
	})
}
