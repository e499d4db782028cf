package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fieldsync/internal/config"
	"github.com/fieldsync/internal/metrics"
	"github.com/fieldsync/internal/middleware"
	"github.com/fieldsync/internal/service"
	"github.com/fieldsync/internal/ws"
)

// Deps: всё, что нужно HTTP-слою syncd.
type Deps struct {
	Config   *config.Config
	Sync     *service.SyncService
	Messages *service.MessageService
	Hub      *ws.Hub
	Metrics  *metrics.Sync
}

func NewRouter(d Deps) http.Handler {
	partH := NewPartitionHandler(d.Messages)
	syncH := NewSyncHandler(d.Sync)
	msgH := NewMessageHandler(d.Messages)
	configH := NewConfigHandler(d.Config)
	wsH := NewWSHandler(d.Hub, d.Messages, d.Config.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(d.Config.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(d.Config.InternalSecret)).Handle("/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIToken(d.Config.APIToken))
		r.Use(middleware.RateLimit(d.Config.RateLimitRPS, 0))
		r.Get("/config/sync", configH.GetSyncConfig)
		r.Get("/partitions", partH.List)
		r.Route("/partitions/{partitionId}", func(r chi.Router) {
			r.Get("/", partH.Get)
			r.Put("/", partH.Register)
			r.Post("/sync", syncH.Sync)
			r.Get("/checkpoint", syncH.Checkpoint)
			r.Get("/messages", msgH.GetMessages)
			r.Post("/messages", msgH.CreateMessage)
			r.Post("/messages/read", msgH.MarkAsRead)
			r.Post("/surveys/{surveyId}/response", msgH.CreateSurveyResponse)
			r.Get("/ws", wsH.ServeWS)
		})
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
