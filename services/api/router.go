package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/conversation"
	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/dispatch"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/messaging"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/ws"
)

type routerDeps struct {
	resolver   *auth.Resolver
	tokens     storage.TokenStore
	users      storage.UserStore
	registry   *presence.Registry
	dispatcher *dispatch.Dispatcher
	convs      *conversation.Service
	msgs       *messaging.Service
	delivery   *delivery.Service
	hub        *ws.Hub
}

func newRouter(cfg *config.Config, d routerDeps) http.Handler {
	convH := handler.NewConversationHandler(d.convs)
	msgH := handler.NewMessageHandler(d.msgs, d.delivery, d.dispatcher)
	userH := handler.NewUserHandler(d.users, d.registry)
	authH := handler.NewAuthHandler(d.resolver)
	wsH := handler.NewWSHandler(d.hub, d.resolver, d.tokens, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
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
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", metrics.Handler())
	// /ws проверяет токен сам: браузер передаёт его в ?token=.
	r.Get("/ws", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(d.resolver))
		r.Use(middleware.RateLimitAPI(cfg.RateLimit.PerIP, cfg.RateLimit.PerUser))

		r.Post("/logout", authH.Logout)
		r.Get("/presence", userH.Online)

		r.Get("/users", userH.List)
		r.Get("/users/me", userH.Me)
		r.Patch("/users/me", userH.UpdateMe)
		r.Get("/users/{id}", userH.Get)

		r.Get("/conversations", convH.List)
		r.Post("/conversations", convH.CreateOrGet)
		r.Post("/conversations/group", convH.CreateGroup)
		r.Get("/conversations/{id}", convH.Get)
		r.Delete("/conversations/{id}", convH.Delete)
		r.Get("/conversations/{id}/messages", msgH.List)
		r.Post("/conversations/{id}/messages", msgH.Send)
		r.Post("/conversations/{id}/delivered", msgH.MarkDelivered)
		r.Post("/conversations/{id}/seen", msgH.MarkSeen)

		r.Patch("/messages/{id}", msgH.Edit)
		r.Delete("/messages/{id}", msgH.Delete)
		r.Get("/messages/{id}/status", msgH.Status)
	})
	return r
}
