// Package view renders the server-side HTML pages and carries the flash
// messages shown on the next rendered page.
package view

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"leveltest/web"

	"github.com/go-chi/chi/v5/middleware"
)

// TimeLayout is the single display format for stored timestamps.
const TimeLayout = "2006-01-02 15:04"

type csrfKey struct{}

// Viewer is the logged-in user as the layout needs it.
type Viewer struct {
	Username string
	IsAdmin  bool
}

// Page is the model every template receives.
type Page struct {
	Title     string
	Viewer    *Viewer
	Flashes   []Flash
	CSRFToken string
	RequestID string
	Now       time.Time
	Data      any
}

type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format(TimeLayout)
	},
	"add": func(a, b int) int { return a + b },
}

// NewRenderer parses the layout once per page so that every page can define
// its own "content" block.
func NewRenderer() (*Renderer, error) {
	return newRenderer(web.Templates)
}

func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

func newRenderer(fsys fs.FS) (*Renderer, error) {
	pageFiles, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("glob pages: %w", err)
	}
	if len(pageFiles) == 0 {
		return nil, fmt.Errorf("no page templates found")
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, file := range pageFiles {
		name := strings.TrimSuffix(file[strings.LastIndex(file, "/")+1:], ".html")
		t, err := template.New(name).Funcs(funcs).ParseFS(fsys, "templates/layout/*.html", file)
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render writes page name with status 200. Pending flashes are consumed.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, name string, p Page) {
	rd.RenderStatus(w, r, http.StatusOK, name, p)
}

func (rd *Renderer) RenderStatus(w http.ResponseWriter, r *http.Request, status int, name string, p Page) {
	t, ok := rd.pages[name]
	if !ok {
		log.Printf("render: unknown page %q", name)
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}

	p.Flashes = append(PopFlashes(w, r), p.Flashes...)
	p.CSRFToken = CSRFToken(r.Context())
	p.RequestID = middleware.GetReqID(r.Context())
	p.Now = time.Now()

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", p); err != nil {
		log.Printf("render %s: %v", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Redirect queues a flash (when msg is non-empty) and redirects.
func Redirect(w http.ResponseWriter, r *http.Request, target string, category Category, msg string) {
	if msg != "" {
		AddFlash(w, r, Flash{Category: category, Message: msg})
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func WithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfKey{}, token)
}

func CSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(csrfKey{}).(string)
	return v
}
