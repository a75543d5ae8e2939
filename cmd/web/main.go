package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leveltest/internal/app"
	"leveltest/internal/auth"
	"leveltest/internal/db"
)

func main() {
	initDB := flag.Bool("init-db", false, "drop all tables, recreate the schema, load sample tests and exit")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	dbConn, err := db.Open(ctx, cfg.DBConfig())
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if *initDB {
		if err := resetDatabase(ctx, cfg, dbConn); err != nil {
			log.Printf("init-db: %v", err)
			os.Exit(1)
		}
		log.Printf("database initialized with sample tests")
		return
	}

	if err := db.EnsureSchema(ctx, dbConn); err != nil {
		log.Printf("schema error: %v", err)
		os.Exit(1)
	}
	if cfg.SeedSampleData {
		if err := db.SeedSampleData(ctx, dbConn); err != nil {
			log.Printf("seed error: %v", err)
			os.Exit(1)
		}
	}
	if err := ensureAdmin(ctx, cfg, dbConn); err != nil {
		log.Printf("admin bootstrap error: %v", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, dbConn),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Printf("listen error: %v", err)
		os.Exit(1)
	}
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("leveltest web listening on %s (env=%s)", cfg.HTTPAddr, cfg.AppEnv)
	if err := serve(srv, ln, quit, 5*time.Second); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("server exited")
}

// serve runs srv on ln until quit fires, then drains in-flight requests for
// at most grace before returning.
func serve(srv *http.Server, ln net.Listener, quit <-chan os.Signal, grace time.Duration) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-quit
		log.Printf("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("forced shutdown: %v", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}

func resetDatabase(ctx context.Context, cfg app.Config, conn *sql.DB) error {
	if err := db.Reset(ctx, conn); err != nil {
		return err
	}
	if err := db.SeedSampleData(ctx, conn); err != nil {
		return err
	}
	return ensureAdmin(ctx, cfg, conn)
}

func ensureAdmin(ctx context.Context, cfg app.Config, conn *sql.DB) error {
	svc := auth.NewService(conn, auth.ServiceConfig{})
	return svc.EnsureAdmin(ctx, auth.AdminAccount{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	})
}
