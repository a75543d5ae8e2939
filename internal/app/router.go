package app

import (
	"database/sql"
	"net/http"
	"time"

	"leveltest/internal/app/observability"
	"leveltest/internal/app/view"
	"leveltest/internal/auth"
	"leveltest/internal/exam"
	"leveltest/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	views := view.MustRenderer()
	collector := observability.NewCollector(db)
	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	authSvc := auth.NewService(db, auth.ServiceConfig{})
	authHandler := auth.NewHandler(authSvc, auth.HandlerConfig{
		Sessions:     auth.NewSessionCodec(cfg.SessionSecret, cfg.SessionTTL()),
		Views:        views,
		SecureCookie: cfg.CookieSecure,
		VerifyUsers:  db != nil,
	})

	examSvc := exam.NewService(db)
	examHandler := exam.NewHandler(examSvc, views)
	adminHandler := exam.NewAdminHandler(examSvc, views)

	r.Get("/healthz", healthHandler(db))
	r.Get("/metrics", collector.MetricsHandler)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))

	r.Group(func(pages chi.Router) {
		pages.Use(CSRFMiddleware(cfg.CSRFEnforced, cfg.CookieSecure))
		pages.Use(authHandler.LoadPrincipal)
		pages.Use(collector.Middleware)

		pages.Get("/logout", authHandler.Logout)

		pages.Group(func(public chi.Router) {
			public.Use(authHandler.RedirectAuthenticated)
			public.Get("/", authHandler.Index)
			public.Get("/register", authHandler.RegisterForm)
			public.Get("/login", authHandler.LoginForm)

			public.Group(func(limited chi.Router) {
				limited.Use(RateLimitMiddleware(authLimiter))
				limited.Post("/register", authHandler.Register)
				limited.Post("/login", authHandler.Login)
			})
		})

		pages.Group(func(user chi.Router) {
			user.Use(authHandler.RequireStandardUser)
			user.Get("/dashboard", examHandler.Dashboard)
			user.Get("/test/{testID}", examHandler.TakeTest)
			user.Post("/submit/{testID}", examHandler.Submit)
		})

		pages.Route("/admin", func(admin chi.Router) {
			admin.Use(authHandler.RequireAdmin)
			admin.Get("/", adminHandler.Index)

			admin.Get("/manage-tests", adminHandler.ManageTests)
			admin.Post("/manage-tests", adminHandler.CreateTest)
			admin.Post("/delete-test/{testID}", adminHandler.DeleteTest)

			admin.Get("/manage-questions/{testID}", adminHandler.ManageQuestions)
			admin.Post("/manage-questions/{testID}", adminHandler.CreateQuestion)
			admin.Post("/manage-questions/{testID}/import", adminHandler.ImportQuestions)
			admin.Post("/delete-question/{questionID}/{testID}", adminHandler.DeleteQuestion)

			admin.Get("/manage-users", authHandler.ManageUsers)
			admin.Get("/manage-users/export", authHandler.ExportUsers)
			admin.Post("/delete-user/{userID}", authHandler.DeleteUser)
		})
	})

	return r
}
