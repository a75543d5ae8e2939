package app

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"leveltest/internal/app/view"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow("other") {
		t.Fatalf("other keys have their own bucket")
	}
}

func TestIPRateLimiterWindowResets(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("k") || l.Allow("k") {
		t.Fatalf("expected one request per window")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow("k") {
		t.Fatalf("expected a fresh window after a minute")
	}
}

func TestRateLimitMiddlewareOnlyLimitsPost(t *testing.T) {
	h := RateLimitMiddleware(NewIPRateLimiter(1, time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET should not be limited, got %d", w.Code)
		}
	}

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/login", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/login", nil))
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d then %d", first.Code, second.Code)
	}
}

func csrfProtected(enforced bool) (http.Handler, *string) {
	var seen string
	return CSRFMiddleware(enforced, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = view.CSRFToken(r.Context())
		w.WriteHeader(http.StatusOK)
	})), &seen
}

func TestCSRFMiddlewareIssuesToken(t *testing.T) {
	h, seen := csrfProtected(true)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || cookie.Value != *seen {
		t.Fatalf("expected issued cookie to match context token, cookie=%v token=%q", cookie, *seen)
	}
}

func TestCSRFMiddlewareAcceptsHeader(t *testing.T) {
	h, _ := csrfProtected(true)
	req := httptest.NewRequest(http.MethodPost, "/submit/1", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareAcceptsFormField(t *testing.T) {
	h, seen := csrfProtected(true)
	req := httptest.NewRequest(http.MethodPost, "/admin/manage-tests", strings.NewReader(url.Values{csrfFieldName: {"abc"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK || *seen != "abc" {
		t.Fatalf("expected 200 with token abc, got %d token=%q", w.Code, *seen)
	}
}

func TestCSRFMiddlewareRejects(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		field  string
	}{
		{name: "no cookie no field"},
		{name: "no cookie", field: "abc"},
		{name: "no field", cookie: "abc"},
		{name: "mismatch", cookie: "abc", field: "xyz"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := csrfProtected(true)
			form := url.Values{}
			if tc.field != "" {
				form.Set(csrfFieldName, tc.field)
			}
			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d", w.Code)
			}
		})
	}
}

func TestCSRFMiddlewareNotEnforced(t *testing.T) {
	h, _ := csrfProtected(false)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when not enforced, got %d", w.Code)
	}
}
