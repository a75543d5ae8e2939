package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"leveltest/internal/app/view"

	"github.com/go-chi/chi/v5"
)

const (
	adminHome    = "/admin/"
	userHome     = "/dashboard"
	loginPath    = "/login"
	registerPath = "/register"
	usersPath    = "/admin/manage-users"
)

type authService interface {
	Register(ctx context.Context, in RegisterInput) (*User, error)
	Authenticate(ctx context.Context, username, password string) (*User, error)
	ListStandardUsers(ctx context.Context) ([]UserSummary, error)
	DeleteUser(ctx context.Context, userID int64) error
	ExportUsersExcel(ctx context.Context) ([]byte, error)
	LookupPrincipal(ctx context.Context, userID int64) (*Principal, error)
}

type Handler struct {
	svc          authService
	sessions     *SessionCodec
	views        *view.Renderer
	secureCookie bool
	verifyUsers  bool
}

type HandlerConfig struct {
	Sessions     *SessionCodec
	Views        *view.Renderer
	SecureCookie bool
	// VerifyUsers reloads the session's user on every request.
	VerifyUsers bool
}

func NewHandler(svc authService, cfg HandlerConfig) *Handler {
	return &Handler{
		svc:          svc,
		sessions:     cfg.Sessions,
		views:        cfg.Views,
		secureCookie: cfg.SecureCookie,
		verifyUsers:  cfg.VerifyUsers,
	}
}

// Viewer converts the request principal into the layout's viewer model.
func Viewer(ctx context.Context) *view.Viewer {
	p, ok := CurrentPrincipal(ctx)
	if !ok {
		return nil
	}
	return &view.Viewer{Username: p.Username, IsAdmin: p.IsAdmin()}
}

func homeFor(p *Principal) string {
	if p.IsAdmin() {
		return adminHome
	}
	return userHome
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, "index", view.Page{Title: "Welcome"})
}

func (h *Handler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, "register", view.Page{Title: "Register"})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		view.Redirect(w, r, registerPath, view.Danger, "Invalid form submission.")
		return
	}

	_, err := h.svc.Register(r.Context(), RegisterInput{
		Username:        r.PostForm.Get("username"),
		Email:           r.PostForm.Get("email"),
		Password:        r.PostForm.Get("password"),
		ConfirmPassword: r.PostForm.Get("confirm_password"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPasswordMismatch):
			view.Redirect(w, r, registerPath, view.Danger, "Passwords do not match.")
		case errors.Is(err, ErrValidation):
			view.Redirect(w, r, registerPath, view.Danger, "Please fill in all fields with valid values.")
		case errors.Is(err, ErrConflict):
			view.Redirect(w, r, registerPath, view.Warning, "Username or email is already registered.")
		default:
			log.Printf("register failed: %v", err)
			view.Redirect(w, r, registerPath, view.Danger, "Registration failed. Please try again.")
		}
		return
	}

	view.Redirect(w, r, loginPath, view.Success, "Registration successful. You can now log in.")
}

func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, "login", view.Page{Title: "Log in"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		view.Redirect(w, r, loginPath, view.Danger, "Invalid form submission.")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		view.Redirect(w, r, loginPath, view.Danger, "Please enter your username and password.")
		return
	}

	user, err := h.svc.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			view.Redirect(w, r, loginPath, view.Danger, "Incorrect username or password.")
			return
		}
		log.Printf("login failed: %v", err)
		view.Redirect(w, r, loginPath, view.Danger, "Login failed. Please try again.")
		return
	}

	p := user.Principal()
	token, expiresAt, err := h.sessions.Encode(p)
	if err != nil {
		log.Printf("create session user_id=%d: %v", user.ID, err)
		view.Redirect(w, r, loginPath, view.Danger, "Login failed. Please try again.")
		return
	}
	setSessionCookie(w, token, expiresAt, h.secureCookie)

	view.Redirect(w, r, homeFor(&p), view.Success, fmt.Sprintf("Welcome back, %s!", user.Username))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, h.secureCookie)
	view.Redirect(w, r, "/", view.Info, "You have been logged out.")
}

func (h *Handler) ManageUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListStandardUsers(r.Context())
	page := view.Page{Title: "Manage users", Viewer: Viewer(r.Context()), Data: users}
	if err != nil {
		log.Printf("list users: %v", err)
		page.Data = []UserSummary{}
		page.Flashes = []view.Flash{{Category: view.Danger, Message: "Could not load users."}}
	}
	h.views.Render(w, r, "admin_users", page)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		view.Redirect(w, r, usersPath, view.Danger, "Invalid user id.")
		return
	}

	if err := h.svc.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			view.Redirect(w, r, usersPath, view.Danger, "User not found.")
			return
		}
		log.Printf("delete user id=%d: %v", userID, err)
		view.Redirect(w, r, usersPath, view.Danger, "Could not delete the user.")
		return
	}
	view.Redirect(w, r, usersPath, view.Success, fmt.Sprintf("User %d and all of their results were deleted.", userID))
}

func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportUsersExcel(r.Context())
	if err != nil {
		log.Printf("export users: %v", err)
		view.Redirect(w, r, usersPath, view.Danger, "Could not export users.")
		return
	}
	filename := fmt.Sprintf("users-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// LoadPrincipal decodes the session cookie once per request. An invalid or
// expired cookie, or one whose user no longer exists, is cleared and the
// request continues anonymously.
func (h *Handler) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readSessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := h.sessions.Decode(token)
		if err != nil {
			clearSessionCookie(w, h.secureCookie)
			next.ServeHTTP(w, r)
			return
		}
		if h.verifyUsers {
			current, err := h.svc.LookupPrincipal(r.Context(), p.UserID)
			switch {
			case errors.Is(err, ErrUserNotFound):
				clearSessionCookie(w, h.secureCookie)
				next.ServeHTTP(w, r)
				return
			case err != nil:
				log.Printf("load session user_id=%d: %v", p.UserID, err)
			default:
				p = current
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireStandardUser gates test-taking routes: anonymous users go to the
// login page, administrators go to the admin area.
func (h *Handler) RequireStandardUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := CurrentPrincipal(r.Context())
		if !ok {
			view.Redirect(w, r, loginPath, view.Warning, "Please log in to access this page.")
			return
		}
		if p.IsAdmin() {
			view.Redirect(w, r, adminHome, view.Info, "Administrators use the admin area.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates the admin area: anonymous users go to the login page,
// standard users go to their dashboard.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := CurrentPrincipal(r.Context())
		if !ok {
			view.Redirect(w, r, loginPath, view.Warning, "Please log in to access this page.")
			return
		}
		if !p.IsAdmin() {
			view.Redirect(w, r, userHome, view.Danger, "You do not have permission to access that page.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectAuthenticated sends logged-in users from public pages to their home.
func (h *Handler) RedirectAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := CurrentPrincipal(r.Context()); ok {
			http.Redirect(w, r, homeFor(p), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
