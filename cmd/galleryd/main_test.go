package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/quotebot/quotegallery/internal/quotestore"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("GALLERYD_TEST_INT", "42")
	got := intEnv("GALLERYD_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("GALLERYD_TEST_INT_BAD", "not-a-number")
	got := intEnv("GALLERYD_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("GALLERYD_TEST_DURATION", "150ms")
	got := durationEnv("GALLERYD_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestBoolAndListEnv(t *testing.T) {
	t.Setenv("GALLERYD_TEST_BOOL", "true")
	t.Setenv("GALLERYD_TEST_BOOL_BAD", "maybe")
	if !boolEnv("GALLERYD_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	if boolEnv("GALLERYD_TEST_BOOL_BAD", false) {
		t.Fatalf("expected fallback false")
	}
	t.Setenv("GALLERYD_TEST_LIST", " https://a.example.com, ,http://b.example.com ")
	got := listEnv("GALLERYD_TEST_LIST")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "http://b.example.com" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("GALLERYD_TEST_INT_UNSET")
	_ = os.Unsetenv("GALLERYD_TEST_DURATION_UNSET")

	if got := intEnv("GALLERYD_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := int64Env("GALLERYD_TEST_INT_UNSET", 11); got != 11 {
		t.Fatalf("expected fallback 11, got %d", got)
	}
	if got := durationEnv("GALLERYD_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}

func TestStoreProfileDefaults(t *testing.T) {
	t.Setenv("GALLERYD_BACKEND_PROFILE", "memory")
	dsn, err := storeProfileDefaultsFromEnv()
	if err != nil || dsn != "memory://" {
		t.Fatalf("expected memory profile, got %q %v", dsn, err)
	}

	t.Setenv("GALLERYD_BACKEND_PROFILE", "production")
	t.Setenv("GALLERYD_POSTGRES_DSN", "")
	if _, err := storeProfileDefaultsFromEnv(); err == nil {
		t.Fatalf("expected production profile without DSN to fail")
	}
	t.Setenv("GALLERYD_POSTGRES_DSN", "postgres://gallery@localhost/gallery")
	dsn, err = storeProfileDefaultsFromEnv()
	if err != nil || dsn != "postgres://gallery@localhost/gallery" {
		t.Fatalf("expected postgres dsn, got %q %v", dsn, err)
	}

	t.Setenv("GALLERYD_BACKEND_PROFILE", "weird")
	if _, err := storeProfileDefaultsFromEnv(); err == nil {
		t.Fatalf("expected unsupported profile to fail")
	}
}

func TestBuildStoreFromEnvPrefersExplicitDSN(t *testing.T) {
	t.Setenv("GALLERYD_BACKEND_PROFILE", "")
	t.Setenv("GALLERYD_STORE_DSN", "memory://")
	store, err := buildStoreFromEnv()
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*quotestore.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestBuildObjectsWithoutBucketIsNoop(t *testing.T) {
	t.Setenv("GALLERYD_S3_BUCKET", "")
	objects, err := buildObjectsFromEnv(context.Background())
	if err != nil {
		t.Fatalf("build objects: %v", err)
	}
	if _, ok := objects.(quotestore.NoopObjects); !ok {
		t.Fatalf("expected noop objects, got %T", objects)
	}
}
