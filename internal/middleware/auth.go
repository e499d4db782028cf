package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fieldsync/internal/logger"
)

// APIToken проверяет bearer-токен UI-слоя (Authorization: Bearer <token>).
// Для websocket токен можно передать в ?token=, браузер не ставит заголовки на upgrade.
// Пустой token отключает проверку (режим разработки).
func APIToken(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		logger.Warnf("middleware: API_TOKEN не задан, /api доступен без авторизации")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
				if got == "" {
					got = r.URL.Query().Get("token")
				}
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
			}
			clientID := strings.TrimSpace(r.Header.Get("X-Device-Id"))
			if clientID == "" {
				clientID = clientIP(r)
			}
			ctx := context.WithValue(r.Context(), ClientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
