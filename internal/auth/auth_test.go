package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, secret string, claims *staticClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier("test-secret")
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		raw := signToken(t, "test-secret", &staticClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Email: "dev@example.com",
			Roles: []string{"operator"},
		})

		claims, err := v.Verify(ctx, raw)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims.Subject != "user-1" {
			t.Errorf("unexpected subject %q", claims.Subject)
		}
		if claims.Email != "dev@example.com" {
			t.Errorf("unexpected email %q", claims.Email)
		}
		if !claims.HasRole("operator") {
			t.Error("expected operator role")
		}
		if claims.Expiry == 0 {
			t.Error("expected expiry to be carried over")
		}
	})

	t.Run("bearer prefix stripped", func(t *testing.T) {
		raw := signToken(t, "test-secret", &staticClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		})
		if _, err := v.Verify(ctx, "Bearer "+raw); err != nil {
			t.Errorf("Verify with prefix: %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		raw := signToken(t, "other-secret", &staticClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		})
		if _, err := v.Verify(ctx, raw); err == nil {
			t.Error("expected error for wrong secret")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		raw := signToken(t, "test-secret", &staticClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		if _, err := v.Verify(ctx, raw); err == nil {
			t.Error("expected error for expired token")
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := v.Verify(ctx, "not-a-jwt"); err == nil {
			t.Error("expected error for garbage token")
		}
	})
}

func TestClaimsHelpers(t *testing.T) {
	c := &Claims{
		Roles:  []string{"viewer", "operator"},
		Groups: []string{"builders"},
	}

	if !c.HasRole("operator") || c.HasRole("admin") {
		t.Error("HasRole mismatch")
	}
	if !c.HasGroup("builders") || c.HasGroup("admins") {
		t.Error("HasGroup mismatch")
	}
	if c.IsExpired() {
		t.Error("zero expiry must not count as expired")
	}

	c.Expiry = time.Now().Add(-time.Minute).Unix()
	if !c.IsExpired() {
		t.Error("past expiry must count as expired")
	}
}

type fakeVerifier struct {
	claims *Claims
	err    error
}

func (f *fakeVerifier) Verify(context.Context, string) (*Claims, error) {
	return f.claims, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareDisabled(t *testing.T) {
	m := NewMiddleware(nil, &MiddlewareConfig{Enabled: false}, testLogger())
	handler := m.Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/graph", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when auth disabled, got %d", rr.Code)
	}
}

func TestMiddlewareEnforcement(t *testing.T) {
	verifier := &fakeVerifier{claims: &Claims{Subject: "user-1", Roles: []string{"viewer"}}}
	m := NewMiddleware(verifier, &MiddlewareConfig{Enabled: true}, testLogger())

	var gotClaims *Claims
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("public path skips auth", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200 for public path, got %d", rr.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/graph", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Error("expected WWW-Authenticate header")
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/graph", nil)
		req.Header.Set("Authorization", "Basic abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("valid token passes claims through", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/graph", nil)
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		if gotClaims == nil || gotClaims.Subject != "user-1" {
			t.Errorf("claims not propagated: %+v", gotClaims)
		}
	})
}

func TestMiddlewareRequiredRoles(t *testing.T) {
	verifier := &fakeVerifier{claims: &Claims{Subject: "user-1", Roles: []string{"viewer"}}}
	m := NewMiddleware(verifier, &MiddlewareConfig{
		Enabled:       true,
		RequiredRoles: []string{"operator"},
	}, testLogger())
	handler := m.Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/graph", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 without required role, got %d", rr.Code)
	}
}

func TestVerifyRequest(t *testing.T) {
	t.Run("disabled returns anonymous", func(t *testing.T) {
		m := NewMiddleware(nil, nil, testLogger())
		req := httptest.NewRequest("GET", "/ws", nil)
		claims, err := m.VerifyRequest(req)
		if err != nil {
			t.Fatalf("VerifyRequest: %v", err)
		}
		if claims.Subject != "anonymous" {
			t.Errorf("unexpected subject %q", claims.Subject)
		}
	})

	t.Run("query token accepted", func(t *testing.T) {
		verifier := &fakeVerifier{claims: &Claims{Subject: "user-1"}}
		m := NewMiddleware(verifier, &MiddlewareConfig{Enabled: true}, testLogger())
		req := httptest.NewRequest("GET", "/ws?token=good", nil)
		claims, err := m.VerifyRequest(req)
		if err != nil {
			t.Fatalf("VerifyRequest: %v", err)
		}
		if claims.Subject != "user-1" {
			t.Errorf("unexpected subject %q", claims.Subject)
		}
	})

	t.Run("missing token rejected", func(t *testing.T) {
		verifier := &fakeVerifier{claims: &Claims{Subject: "user-1"}}
		m := NewMiddleware(verifier, &MiddlewareConfig{Enabled: true}, testLogger())
		req := httptest.NewRequest("GET", "/ws", nil)
		if _, err := m.VerifyRequest(req); err == nil {
			t.Error("expected error without token")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/v1/graph", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %v", codes)
	}
}

func TestPerIPRateLimiterIsolation(t *testing.T) {
	rl := NewPerIPRateLimiter(1, 1)
	defer rl.Stop()
	handler := rl.Handler(okHandler())

	send := func(ip string) int {
		req := httptest.NewRequest("GET", "/api/v1/graph", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Errorf("first request from A should pass, got %d", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("second request from A should be limited, got %d", code)
	}
	// A separate client keeps its own budget.
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Errorf("first request from B should pass, got %d", code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*http.Request)
		remote string
		want   string
	}{
		{
			name:   "x-forwarded-for first hop",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8") },
			remote: "9.9.9.9:1234",
			want:   "1.2.3.4",
		},
		{
			name:   "x-real-ip",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "1.2.3.4") },
			remote: "9.9.9.9:1234",
			want:   "1.2.3.4",
		},
		{
			name:   "remote addr",
			setup:  func(*http.Request) {},
			remote: "9.9.9.9:1234",
			want:   "9.9.9.9",
		},
		{
			name:   "ipv6 remote addr",
			setup:  func(*http.Request) {},
			remote: "[::1]:8080",
			want:   "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			tt.setup(req)
			if got := getClientIP(req); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
