package middleware

import "context"

type contextKey string

const ClientIDKey contextKey = "client_id"

// GetClientID возвращает идентификатор клиента UI-слоя (X-Device-Id), устанавливается APIToken.
func GetClientID(ctx context.Context) string {
	v, _ := ctx.Value(ClientIDKey).(string)
	return v
}
