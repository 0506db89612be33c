package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/model"
)

type resolverFunc func(ctx context.Context, credential string) (*auth.Identity, error)

func (f resolverFunc) Resolve(ctx context.Context, credential string) (*auth.Identity, error) {
	return f(ctx, credential)
}

func TestAuthenticate(t *testing.T) {
	resolver := resolverFunc(func(_ context.Context, credential string) (*auth.Identity, error) {
		if credential != "good" {
			return nil, fmt.Errorf("%w: bad token", apperr.ErrUnauthorized)
		}
		return &auth.Identity{User: &model.User{ID: "alice"}, Claims: &auth.Claims{UserID: "alice"}}, nil
	})
	var seen string
	h := Authenticate(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		if GetClaims(r.Context()) == nil {
			t.Error("claims missing from context")
		}
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		user   string
	}{
		{name: "bearer header", header: "Bearer good", status: http.StatusOK, user: "alice"},
		{name: "query token", query: "?token=good", status: http.StatusOK, user: "alice"},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "non-bearer scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "missing", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if seen != tt.user {
				t.Fatalf("user = %q, want %q", seen, tt.user)
			}
		})
	}
}

func TestLimiterPool(t *testing.T) {
	p := newLimiterPool(3)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !p.allow("1.2.3.4") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if p.allow("1.2.3.4") {
		t.Fatal("request beyond burst allowed")
	}
	if !p.allow("5.6.7.8") {
		t.Fatal("keys must not share a bucket")
	}
	now = now.Add(20 * time.Second)
	if !p.allow("1.2.3.4") {
		t.Fatal("bucket did not refill")
	}
}

func TestLimiterPoolForgetsIdleKeys(t *testing.T) {
	p := newLimiterPool(1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	p.allow("a")
	now = now.Add(2 * limiterTTL)
	p.allow("b")
	if _, ok := p.visitors["a"]; ok {
		t.Fatal("idle visitor was not swept")
	}
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tests := []struct {
		name   string
		remote string
		secret string
		status int
	}{
		{name: "loopback", remote: "127.0.0.1:5000", status: http.StatusOK},
		{name: "private", remote: "10.1.2.3:5000", status: http.StatusOK},
		{name: "public", remote: "8.8.8.8:5000", status: http.StatusForbidden},
		{name: "public with secret", remote: "8.8.8.8:5000", secret: "s3cret", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remote
			if tt.secret != "" {
				req.Header.Set("X-Internal-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
