package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"infodigest/internal/infrastructure/config"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		Auth: config.AuthConfig{Secret: "test-secret", TokenTTL: time.Hour},
	}
	return NewServer(cfg, nil)
}

// doRequest 送出請求並回傳 recorder；body 為 JSON 字串，可為空。
func doRequest(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// login 以預設密碼登入並回傳 (userID, token)。
func login(t *testing.T, s *Server, email string) (string, string) {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/auth/login", "",
		`{"email":"`+email+`","password":"password123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: status=%d body=%s", w.Code, w.Body.String())
	}
	var res struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("parse login response: %v", err)
	}
	return res.User.ID, res.AccessToken
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/api/ping", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestHealth_NoDB(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res struct {
		Success bool   `json:"success"`
		DB      string `json:"db"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.DB != "not_configured" {
		t.Errorf("unexpected health: %+v", res)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/api/auth/login", "",
		`{"email":"admin@example.com","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "AUTH_INVALID_CREDENTIALS") {
		t.Errorf("missing error code: %s", w.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/monitoring/status"},
		{http.MethodGet, "/api/strategies"},
		{http.MethodGet, "/api/focus"},
	}
	for _, p := range paths {
		w := doRequest(t, s, p.method, p.path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, w.Code)
		}
	}

	w := doRequest(t, s, http.MethodGet, "/api/monitoring/status", "garbage-token", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: status = %d, want 401", w.Code)
	}
}

func TestAdminOnly(t *testing.T) {
	s := newTestServer(t)
	_, userToken := login(t, s, "user@example.com")
	_, adminToken := login(t, s, "admin@example.com")

	w := doRequest(t, s, http.MethodPost, "/api/monitoring/queue/clear", userToken, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("user clear queue: status = %d, want 403", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/monitoring/queue/clear", adminToken, "")
	if w.Code != http.StatusOK {
		t.Errorf("admin clear queue: status = %d, want 200", w.Code)
	}
}
