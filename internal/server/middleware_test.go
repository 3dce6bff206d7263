package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		// Auth bootstrap and infrastructure endpoints need no token.
		{"/healthz", true},
		{"/readyz", true},
		{"/openapi.yaml", true},
		{"/v1/auth/token", true},
		{"/v1/auth/service-token", true},
		{"/v1/onboarding", true},
		{"/v1/webhooks/subscription", true}, // HMAC-verified, not token-verified.

		// The embedded UI is public.
		{"/", true},
		{"/rules", true},
		{"/assets/index-abc123.js", true},

		// Everything under /v1/ and the MCP endpoint require a token.
		{"/v1/auth/scoped-token", false},
		{"/v1/events", false},
		{"/v1/foods/search", false},
		{"/v1/users/abc/layout", false},
		{"/v1/admin/rules", false},
		{"/mcp", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := publicPath(tt.path); got != tt.want {
				t.Errorf("publicPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxutil.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := requestIDMiddleware(inner)

	// Client-supplied ID is honored and echoed back.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/events", nil)
	req.Header.Set("X-Request-ID", "client-req-42")
	handler.ServeHTTP(rec, req)

	if seen != "client-req-42" {
		t.Errorf("context request ID = %q, want client-req-42", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-req-42" {
		t.Errorf("response X-Request-ID = %q, want client-req-42", got)
	}

	// Missing ID gets generated.
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest("GET", "/v1/events", nil))

	if seen == "" || seen == "client-req-42" {
		t.Errorf("expected a fresh generated request ID, got %q", seen)
	}
	if rec2.Header().Get("X-Request-ID") != seen {
		t.Error("generated request ID should be echoed in the response header")
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Referrer-Policy":            "no-referrer",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var gotClaims *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ctxutil.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(jwtMgr, inner)

	t.Run("public path passes without token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("got %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/events", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/events", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/events", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token populates claims", func(t *testing.T) {
		user := model.User{ID: uuid.New(), Email: "mid@test.dev", Role: model.RoleUser}
		token, _, err := jwtMgr.IssueToken(user)
		if err != nil {
			t.Fatal(err)
		}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/events", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("got %d, want %d", rec.Code, http.StatusOK)
		}
		if gotClaims == nil {
			t.Fatal("claims not populated in context")
		}
		if gotClaims.Subject != user.ID.String() {
			t.Errorf("claims subject = %q, want %q", gotClaims.Subject, user.ID.String())
		}
		if gotClaims.Role != model.RoleUser {
			t.Errorf("claims role = %q, want %q", gotClaims.Role, model.RoleUser)
		}
	})
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminOnly := requireRole(model.RoleAdmin)(inner)
	coachPlus := requireRole(model.RoleCoach)(inner)

	withRole := func(role model.Role) *http.Request {
		req := httptest.NewRequest("GET", "/v1/admin/rules", nil)
		claims := &auth.Claims{Role: role}
		claims.Subject = uuid.New().String()
		return req.WithContext(ctxutil.WithClaims(req.Context(), claims))
	}

	t.Run("no claims yields 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/admin/rules", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("user below admin yields 403", func(t *testing.T) {
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, withRole(model.RoleUser))
		if rec.Code != http.StatusForbidden {
			t.Errorf("got %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("admin passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, withRole(model.RoleAdmin))
		if rec.Code != http.StatusOK {
			t.Errorf("got %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("coach satisfies coach minimum", func(t *testing.T) {
		rec := httptest.NewRecorder()
		coachPlus.ServeHTTP(rec, withRole(model.RoleCoach))
		if rec.Code != http.StatusOK {
			t.Errorf("got %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("user below coach yields 403", func(t *testing.T) {
		rec := httptest.NewRecorder()
		coachPlus.ServeHTTP(rec, withRole(model.RoleUser))
		if rec.Code != http.StatusForbidden {
			t.Errorf("got %d, want %d", rec.Code, http.StatusForbidden)
		}
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(quietLogger(), inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/events", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var body model.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a JSON error envelope: %v", err)
	}
	if body.Error.Code != model.ErrCodeInternalError {
		t.Errorf("error code = %q, want %q", body.Error.Code, model.ErrCodeInternalError)
	}
}

func TestDecodeJSONBodyLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	// 64-byte cap; the payload is larger.
	big := `{"trait_value":"` + strings.Repeat("a", 200) + `"}`
	req := httptest.NewRequest("POST", "/v1/events", strings.NewReader(big))

	var target struct {
		TraitValue string `json:"trait_value"`
	}
	err := decodeJSON(rec, req, &target, 64)
	if err == nil {
		t.Fatal("expected decode error for oversized body")
	}

	handleDecodeError(rec, req, err)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("got %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestDecodeJSONUnknownField(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/events", strings.NewReader(`{"surprise":true}`))

	var target struct {
		Events []model.EventInput `json:"events"`
	}
	if err := decodeJSON(rec, req, &target, 1024); err == nil {
		t.Fatal("expected decode error for unknown field")
	}
}
