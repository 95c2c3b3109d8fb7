package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestImageContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"avatar.PNG", "image/png", true},
		{"photo.jpeg", "image/jpeg", true},
		{"photo.jpg", "image/jpeg", true},
		{"anim.gif", "", false},
		{"script.exe", "", false},
		{"noext", "", false},
	}

	for _, tt := range tests {
		got, ok := ImageContentType(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ImageContentType(%q) = %q, %v; expected %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:8080/uploads/", zap.NewNop())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	url, err := store.Put(context.Background(), "users/profile/u1.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url != "http://localhost:8080/uploads/users/profile/u1.png" {
		t.Errorf("Unexpected URL: %s", url)
	}
	if key := store.KeyFromURL(url); key != "users/profile/u1.png" {
		t.Errorf("Expected key back from URL, got %q", key)
	}
	if key := store.KeyFromURL("https://res.cloudinary.com/x.png"); key != "" {
		t.Errorf("Expected empty key for foreign URL, got %q", key)
	}

	data, err := os.ReadFile(filepath.Join(dir, "users", "profile", "u1.png"))
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("Expected file on disk, got %q, %v", data, err)
	}

	rec := httptest.NewRecorder()
	http.StripPrefix("/uploads", store.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/users/profile/u1.png", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Errorf("Expected served file, got %d %q", rec.Code, rec.Body.String())
	}

	if err := store.Delete(context.Background(), "users/profile/u1.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(context.Background(), "users/profile/u1.png"); err != nil {
		t.Errorf("Deleting a missing file should succeed, got %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStore(filepath.Join(dir, "uploads"), "http://x/uploads", nil)

	if _, err := store.Put(context.Background(), "../../escape.png", strings.NewReader("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "uploads", "escape.png")); err != nil {
		t.Errorf("Expected traversal key to be confined to the upload dir: %v", err)
	}
	if _, err := store.Put(context.Background(), "", strings.NewReader("x")); err == nil {
		t.Error("Expected error for empty key")
	}
}
