package app

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"leveltest/internal/app/view"

	"github.com/google/uuid"
)

const (
	csrfCookieName = "leveltest_csrf"
	csrfHeaderName = "X-CSRF-Token"
	csrfFieldName  = "csrf_token"
)

// maxFormBytes caps request bodies before the CSRF check parses the form.
const maxFormBytes = 8 << 20

type rateBucket struct {
	Count      int
	WindowEnds time.Time
}

type IPRateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	store  map[string]rateBucket
	now    func() time.Time
}

func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		max:    max,
		window: window,
		store:  make(map[string]rateBucket),
		now:    time.Now,
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.store[key]
	if now.After(b.WindowEnds) {
		b = rateBucket{Count: 0, WindowEnds: now.Add(l.window)}
	}
	if b.Count >= l.max {
		l.store[key] = b
		return false
	}
	b.Count++
	l.store[key] = b

	if len(l.store) > 10000 {
		l.pruneLocked(now)
	}
	return true
}

// pruneLocked drops buckets whose window has passed.
func (l *IPRateLimiter) pruneLocked(now time.Time) {
	for k, b := range l.store {
		if now.After(b.WindowEnds) {
			delete(l.store, k)
		}
	}
}

// RateLimitMiddleware limits POST requests per client IP and path. Other
// methods pass through so the login and register forms always render.
func RateLimitMiddleware(l *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ip := strings.TrimSpace(r.RemoteAddr)
			key := ip + "|" + r.URL.Path
			if !l.Allow(key) {
				http.Error(w, "Too many attempts. Please wait a minute and try again.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRFMiddleware issues a per-browser token cookie and exposes it to the
// templates. When enforced, unsafe requests must echo the cookie value in
// the csrf_token form field or the X-CSRF-Token header.
func CSRFMiddleware(enforced bool, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(csrfCookieName); err == nil {
				token = strings.TrimSpace(c.Value)
			}
			issued := false
			if token == "" {
				token = uuid.NewString()
				issued = true
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   secureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}
			r = r.WithContext(view.WithCSRFToken(r.Context(), token))

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !enforced {
				next.ServeHTTP(w, r)
				return
			}
			if issued {
				http.Error(w, "Your session form token is missing. Reload the page and try again.", http.StatusForbidden)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
			sent := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if sent == "" {
				sent = strings.TrimSpace(r.PostFormValue(csrfFieldName))
			}
			if sent == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
				http.Error(w, "Invalid form token. Reload the page and try again.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
