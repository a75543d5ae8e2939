package view

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookieName = "leveltest_flash"

// maxFlashes bounds the cookie size when redirects chain without a render.
const maxFlashes = 5

type Category string

const (
	Success Category = "success"
	Info    Category = "info"
	Warning Category = "warning"
	Danger  Category = "danger"
)

type Flash struct {
	Category Category `json:"c"`
	Message  string   `json:"m"`
}

// AddFlash appends f to the flashes the request already carried, so
// messages survive a redirect chain until a page is rendered.
func AddFlash(w http.ResponseWriter, r *http.Request, f Flash) {
	flashes := append(readFlashes(r), f)
	if len(flashes) > maxFlashes {
		flashes = flashes[len(flashes)-maxFlashes:]
	}
	b, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlashes returns pending flashes and expires the cookie.
func PopFlashes(w http.ResponseWriter, r *http.Request) []Flash {
	flashes := readFlashes(r)
	if len(flashes) == 0 {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	return flashes
}

func readFlashes(r *http.Request) []Flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var out []Flash
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
