package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/conversation"
	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/dispatch"
	"github.com/chatrelay/internal/messaging"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/storage/memory"
	"github.com/chatrelay/internal/ws"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.Authenticator) {
	t.Helper()
	store := memory.NewChatStore()
	if err := store.CreateUser(context.Background(), &model.User{ID: "alice", FirstName: "Alice"}); err != nil {
		t.Fatal(err)
	}
	tokens := memory.New()
	authenticator := auth.NewAuthenticator("test-secret", "chatrelay", time.Hour)
	resolver := auth.NewResolver(authenticator, tokens, store)
	reg := presence.NewRegistry()
	disp := dispatch.New(reg)
	convs := conversation.New(store, store, store, disp)
	msgs := messaging.New(convs, store, disp)
	deliv := delivery.New(store, store, disp)
	hub := ws.NewHub(ws.Services{
		Registry: reg, Dispatcher: disp, Conversations: convs, Messages: msgs, Delivery: deliv, Users: store,
	}, ws.DefaultSettings())

	cfg := &config.Config{CORSAllowedOrigins: "*"}
	cfg.RateLimit.PerIP = 1000
	cfg.RateLimit.PerUser = 1000
	return newRouter(cfg, routerDeps{
		resolver: resolver, tokens: tokens, users: store, registry: reg, dispatcher: disp,
		convs: convs, msgs: msgs, delivery: deliv, hub: hub,
	}), authenticator
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterAuthAndLogout(t *testing.T) {
	h, authenticator := newTestRouter(t)
	token, err := authenticator.GenerateToken("alice")
	if err != nil {
		t.Fatal(err)
	}

	if rec := serve(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/users/me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}
	rec := serve(h, http.MethodGet, "/api/users/me", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("secure headers missing: %q", got)
	}

	if rec := serve(h, http.MethodPost, "/api/logout", token); rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d, want 204", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/api/users/me", token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token = %d, want 401", rec.Code)
	}
}

func TestRouterRejectsUnauthenticatedWebSocket(t *testing.T) {
	h, _ := newTestRouter(t)
	if rec := serve(h, http.MethodGet, "/ws", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("/ws without token = %d, want 401", rec.Code)
	}
}

func TestMetricsIsInternalOnly(t *testing.T) {
	h, _ := newTestRouter(t)
	// httptest.NewRequest uses a public documentation address as RemoteAddr.
	if rec := serve(h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("/metrics from public addr = %d, want 403", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics from loopback = %d, want 200", rec.Code)
	}
}
