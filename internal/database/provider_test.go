package database

import (
	"context"
	"errors"
	"testing"
)

func TestScheme(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"sqlite:///tmp/db.sqlite", "sqlite"},
		{"postgres://u:p@host/db", "postgres"},
		{"MySQL://u:p@tcp(host)/db", "mysql"},
		{"/just/a/path", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := Scheme(tt.url); got != tt.want {
				t.Errorf("Scheme(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{URL: "oracle://db"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestOpen_EmptyURL(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestOpen_RegisteredBackend(t *testing.T) {
	called := false
	RegisterBackend(func(ctx context.Context, opts Options) (Store, error) {
		called = true
		return nil, errors.New("not a real backend")
	}, "fake-test")

	_, err := Open(context.Background(), Options{URL: "fake-test://x"})
	if err == nil {
		t.Fatal("expected error from fake backend")
	}
	if !called {
		t.Error("expected registered backend to be called")
	}
}
