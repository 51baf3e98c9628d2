package auth_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/provider/auth"
)

func newTokenServer(t *testing.T, calls *int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":3600}`, *calls)
	}))
}

func TestToken_CachesUntilExpiry(t *testing.T) {
	calls := 0
	srv := newTokenServer(t, &calls, http.StatusOK)
	defer srv.Close()

	clk := clock.Mock{T: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	p := auth.New(srv.URL, "client-id", "client-secret", srv.Client(), clk, slog.Default())

	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "token-1" {
		t.Errorf("token = %q, want token-1", tok)
	}

	tok2, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("second Token() error = %v", err)
	}
	if tok2 != "token-1" {
		t.Errorf("second token = %q, want cached token-1", tok2)
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls)
	}
}

func TestToken_RefreshesAfterInvalidate(t *testing.T) {
	calls := 0
	srv := newTokenServer(t, &calls, http.StatusOK)
	defer srv.Close()

	clk := clock.Mock{T: time.Now()}
	p := auth.New(srv.URL, "client-id", "client-secret", srv.Client(), clk, slog.Default())

	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	p.Invalidate()

	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() after Invalidate error = %v", err)
	}
	if tok != "token-2" {
		t.Errorf("token = %q, want fresh token-2", tok)
	}
	if calls != 2 {
		t.Errorf("token endpoint called %d times, want 2", calls)
	}
}

func TestToken_AuthFailureClassified(t *testing.T) {
	calls := 0
	srv := newTokenServer(t, &calls, http.StatusOK)
	defer srv.Close()

	clk := clock.Mock{T: time.Now()}
	p := auth.New(srv.URL, "wrong-id", "wrong-secret", srv.Client(), clk, slog.Default())

	_, err := p.Token(context.Background())
	if err == nil {
		t.Fatal("expected error for bad credentials")
	}
	var fe *provider.FetchError
	if !errors.As(err, &fe) || fe.Category != provider.ErrAuth {
		t.Errorf("error = %v, want auth-failure FetchError", err)
	}
}

func TestToken_EmptyTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"","expires_in":3600}`)
	}))
	defer srv.Close()

	clk := clock.Mock{T: time.Now()}
	p := auth.New(srv.URL, "id", "secret", srv.Client(), clk, slog.Default())

	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error for empty access_token")
	}
}
