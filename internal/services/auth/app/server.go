package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mate-community/mate/internal/services/auth/api/rest"
	"github.com/mate-community/mate/internal/services/auth/passkey"
	authsqlite "github.com/mate-community/mate/internal/services/auth/storage/sqlite"
	"github.com/mate-community/mate/internal/services/auth/token"
)

const challengeSweepInterval = time.Minute

// Server hosts the auth service HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	restServer *rest.Server
}

// New creates a configured auth server listening on the provided address.
func New(httpAddr string) (*Server, error) {
	store, err := openAuthStore()
	if err != nil {
		return nil, err
	}

	passkeyService, err := passkey.NewService(passkey.LoadConfigFromEnv(), store, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure passkey service: %w", err)
	}

	tokenConfig, err := token.LoadConfigFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	issuer, err := token.NewIssuer(tokenConfig, nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}

	restServer := rest.NewServer(passkeyService, store, issuer)
	mux := http.NewServeMux()
	restServer.RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		restServer: restServer,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	authServer, err := New(httpAddr)
	if err != nil {
		return err
	}
	return authServer.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.restServer.StartCleanup(serverCtx, challengeSweepInterval)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openAuthStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("MATE_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close auth store: %v", err)
	}
}
