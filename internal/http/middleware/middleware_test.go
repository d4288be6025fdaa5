package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/security"
)

func okHandler(t *testing.T) (http.Handler, *security.Identity) {
	t.Helper()
	var seen security.Identity
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			seen = id
		}
		w.WriteHeader(http.StatusOK)
	})
	return h, &seen
}

func envelopeCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Error   *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", body)
	}
	return env.Error.Code
}

func TestAuthMissingToken(t *testing.T) {
	verifier := security.NewVerifier("iss", "aud", "secret")
	next, _ := okHandler(t)
	rec := httptest.NewRecorder()

	Auth(verifier)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if code := envelopeCode(t, rec.Body.Bytes()); code != "UNAUTHORIZED" {
		t.Fatalf("error code = %q", code)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	verifier := security.NewVerifier("iss", "aud", "secret")
	next, _ := okHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer garbage")

	Auth(verifier)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthValidHeaderToken(t *testing.T) {
	verifier := security.NewVerifier("iss", "aud", "secret")
	raw, err := verifier.Sign(security.Identity{UserID: "u1", Username: "Alice", Role: domain.RolePlayer}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	next, seen := okHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+raw)

	Auth(verifier)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen.UserID != "u1" || seen.Role != domain.RolePlayer {
		t.Fatalf("identity not propagated: %+v", seen)
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	verifier := security.NewVerifier("iss", "aud", "secret")
	raw, err := verifier.Sign(security.Identity{UserID: "u1", Username: "Alice", Role: domain.RolePlayer}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	next, seen := okHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream?token="+raw, nil)

	Auth(verifier)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen.UserID != "u1" {
		t.Fatalf("identity not propagated: %+v", seen)
	}
}

func TestRequireRole(t *testing.T) {
	verifier := security.NewVerifier("iss", "aud", "secret")
	next, _ := okHandler(t)
	protected := Auth(verifier)(RequireRole(domain.RoleMaster)(next))

	playerToken, err := verifier.Sign(security.Identity{UserID: "p1", Username: "Alice", Role: domain.RolePlayer}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+playerToken)
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("player status = %d, want 403", rec.Code)
	}
	if code := envelopeCode(t, rec.Body.Bytes()); code != "FORBIDDEN" {
		t.Fatalf("error code = %q", code)
	}

	masterToken, err := verifier.Sign(security.Identity{UserID: "m1", Username: "DM", Role: domain.RoleMaster}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+masterToken)
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("master status = %d, want 200", rec.Code)
	}
}

func TestRequireRoleWithoutAuthContext(t *testing.T) {
	next, _ := okHandler(t)
	rec := httptest.NewRecorder()

	RequireRole(domain.RoleMaster)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRateLimiterDeniesPastLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, "test")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rl.Middleware()(next)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	for i := 0; i < 3; i++ {
		if statuses[i] != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i, statuses[i])
		}
	}
	if statuses[3] != http.StatusTooManyRequests {
		t.Fatalf("request 3 = %d, want 429", statuses[3])
	}
}

func TestRateLimiterSetsRetryAfter(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, "test")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rl.Middleware()(next)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		h.ServeHTTP(rec, req)
		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d, want 429", rec.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("429 must carry Retry-After")
			}
		}
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, "test")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rl.Middleware()(next)

	first := httptest.NewRecorder()
	reqA := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA.RemoteAddr = "10.0.0.3:1234"
	h.ServeHTTP(first, reqA)
	exhausted := httptest.NewRecorder()
	h.ServeHTTP(exhausted, reqA)

	other := httptest.NewRecorder()
	reqB := httptest.NewRequest(http.MethodGet, "/", nil)
	reqB.RemoteAddr = "10.0.0.4:1234"
	h.ServeHTTP(other, reqB)

	if exhausted.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted client = %d, want 429", exhausted.Code)
	}
	if other.Code != http.StatusOK {
		t.Fatalf("other client = %d, want 200", other.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	rec := httptest.NewRecorder()

	SecurityHeaders(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") == "" {
		t.Fatal("missing X-Frame-Options")
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := CORS([]string{"https://app.example.com"})(next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allowed origin not echoed: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not be echoed")
	}
}

func TestCORSPreflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := CORS([]string{"https://app.example.com"})(next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var maxErr *http.MaxBytesError
		if _, err := io.ReadAll(r.Body); errors.As(err, &maxErr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := BodyLimit(8)(next)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is far longer than eight bytes"))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny"))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
