package provider_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jensholdgaard/guildsync/internal/provider"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want provider.ErrorCategory
	}{
		{
			name: "direct fetch error",
			err:  provider.NewFetchError(provider.ErrNotFound, "armory", "http://x", nil),
			want: provider.ErrNotFound,
		},
		{
			name: "wrapped fetch error",
			err:  fmt.Errorf("fetching profile: %w", provider.NewFetchError(provider.ErrRateLimited, "official", "http://x", nil)),
			want: provider.ErrRateLimited,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: provider.ErrUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	nf := provider.NewFetchError(provider.ErrNotFound, "armory", "http://x", nil)
	if !provider.IsNotFound(fmt.Errorf("wrapped: %w", nf)) {
		t.Error("IsNotFound() = false for wrapped not-found error")
	}
	if provider.IsNotFound(errors.New("other")) {
		t.Error("IsNotFound() = true for unrelated error")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   provider.ErrorCategory
	}{
		{http.StatusNotFound, provider.ErrNotFound},
		{http.StatusTooManyRequests, provider.ErrRateLimited},
		{http.StatusUnauthorized, provider.ErrAuth},
		{http.StatusForbidden, provider.ErrAuth},
		{http.StatusInternalServerError, provider.ErrUnknown},
		{http.StatusBadGateway, provider.ErrUnknown},
	}

	for _, tt := range tests {
		if got := provider.ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassifyTransport(t *testing.T) {
	if got := provider.ClassifyTransport(context.DeadlineExceeded); got != provider.ErrTimeout {
		t.Errorf("ClassifyTransport(deadline) = %q, want timeout", got)
	}
	if got := provider.ClassifyTransport(errors.New("conn reset")); got != provider.ErrUnknown {
		t.Errorf("ClassifyTransport(other) = %q, want unknown", got)
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	fe := provider.NewFetchError(provider.ErrTimeout, "armory", "http://x", inner)
	if !errors.Is(fe, inner) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestIdentity_String(t *testing.T) {
	id := provider.Identity{Name: "Krabs", Realm: "silvermoon"}
	if got := id.String(); got != "Krabs-silvermoon" {
		t.Errorf("String() = %q", got)
	}
}
