package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestServerServesHealthEndpoint(t *testing.T) {
	t.Setenv("MATE_AUTH_DB_PATH", filepath.Join(t.TempDir(), "auth.db"))
	t.Setenv("MATE_TOKEN_SECRET", "test-secret")

	authServer, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	addr := authServer.Addr()
	if addr == "" {
		t.Fatalf("expected listener address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- authServer.Serve(ctx)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = client.Get(fmt.Sprintf("http://%s/up", addr))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("reach health endpoint: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	if err := <-serveErr; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestNewServerRequiresTokenSecret(t *testing.T) {
	t.Setenv("MATE_AUTH_DB_PATH", filepath.Join(t.TempDir(), "auth.db"))
	t.Setenv("MATE_TOKEN_SECRET", "")

	if _, err := New("127.0.0.1:0"); err == nil {
		t.Fatalf("expected error without token secret")
	}
}
