package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/auth"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/config"
)

func TestJWTAuthMiddlewareAndRBAC(t *testing.T) {
	authCfg := config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		Issuer:    "ambulancetracker",
		Audience:  "ambulancetracker",
		PublicPaths: []string{
			"/api/v1/login",
		},
		RBAC: map[string][]string{
			"/api/v1/accounts": {"admin", "site_admin"},
		},
	}

	token, _, err := auth.GenerateAccessToken(authCfg, "u-1", []string{"user", "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	var gotSubject string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ai, ok := AuthFromContext(r.Context())
		if !ok {
			t.Fatalf("missing auth info in ctx")
		}
		gotSubject = ai.Subject
		w.WriteHeader(http.StatusOK)
	}), JWTAuthMiddleware(authCfg, nil), RBACMiddleware(authCfg))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected allow, got status=%d body=%s", rec.Code, rec.Body.String())
	}
	if gotSubject != "u-1" {
		t.Fatalf("subject mismatch: %s", gotSubject)
	}

	// 换一个只有 user 角色的 token，应被 RBAC 拒绝
	token2, _, err := auth.GenerateAccessToken(authCfg, "u-2", []string{"user"}, time.Hour)
	if err != nil {
		t.Fatalf("sign token2: %v", err)
	}
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	req2.Header.Set("Authorization", "Bearer "+token2)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("expected permission denied, got %d", rec2.Code)
	}

	// 缺 token 的请求被拒
	req3 := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", nil)
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", rec3.Code)
	}

	// 公开路径不需要 token
	req4 := httptest.NewRequest(http.MethodPost, "/api/v1/login", nil)
	rec4 := httptest.NewRecorder()
	pub := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), JWTAuthMiddleware(authCfg, nil), RBACMiddleware(authCfg))
	pub.ServeHTTP(rec4, req4)
	if rec4.Code != http.StatusOK {
		t.Fatalf("expected public path allowed, got %d", rec4.Code)
	}
}
