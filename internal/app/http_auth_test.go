package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bugtrail/api/internal/auth"
)

func newTestServer(fs *fakeStore) *HTTPServer {
	svc, _, _ := newTestService(fs)
	return NewHTTPServer(svc, "*")
}

func TestProtectedRouteWithoutTokenIsUnauthorized(t *testing.T) {
	server := newTestServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/issues", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestProtectedRouteWithBadTokenIsForbidden(t *testing.T) {
	server := newTestServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/issues", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestLoginSetsRefreshCookie(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr-1", "Avery", "Quinn", "avery@example.com", "Admin", "hunter22")
	server := newTestServer(fs)

	body := bytes.NewBufferString(`{"email":"avery@example.com","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if token, _ := payload["accessToken"].(string); token == "" {
		t.Fatalf("expected accessToken in response")
	}
	if role, _ := payload["role"].(string); role != "Admin" {
		t.Fatalf("expected role Admin, got %v", payload["role"])
	}

	var refreshCookie *http.Cookie
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == refreshCookieName {
			refreshCookie = cookie
		}
	}
	if refreshCookie == nil {
		t.Fatalf("expected refresh cookie to be set")
	}
	if !refreshCookie.HttpOnly || !refreshCookie.Secure || refreshCookie.SameSite != http.SameSiteNoneMode {
		t.Fatalf("unexpected cookie attributes: %+v", refreshCookie)
	}
}

func TestRefreshRequiresCookie(t *testing.T) {
	server := newTestServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", rr.Code)
	}
}

func TestRefreshWithUnknownTokenIsForbidden(t *testing.T) {
	server := newTestServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "stale-token"})
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown token, got %d", rr.Code)
	}
}

func TestLogoutWithoutCookieIsNoContent(t *testing.T) {
	server := newTestServer(newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestLogoutClearsCookieAndRevokesSession(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr-1", "Avery", "Quinn", "avery@example.com", "Admin", "hunter22")
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	session, err := svc.Login(httptest.NewRequest(http.MethodPost, "/auth", nil).Context(), "avery@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: session.RefreshToken})
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, ok := fs.sessions[auth.HashToken(session.RefreshToken)]; ok {
		t.Fatalf("expected refresh session to be revoked")
	}

	var cleared bool
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == refreshCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected cookie to be cleared")
	}
}

func TestRoleGateOnUserCreation(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr-1", "Devon", "Reyes", "devon@example.com", "Developer", "hunter22")
	svc, _, _ := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	session, err := svc.Login(httptest.NewRequest(http.MethodPost, "/auth", nil).Context(), "devon@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	body := bytes.NewBufferString(`{"name":{"first":"Nia","last":"Park"},"email":"nia@example.com","role":"Submitter"}`)
	req := httptest.NewRequest(http.MethodPost, "/users", body)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin user creation, got %d", rr.Code)
	}
}
