package config

import (
	"testing"
	"time"
)

func TestIntFallsBackOnInvalid(t *testing.T) {
	t.Setenv("VW_TEST_INT", "abc")
	if got := Int("VW_TEST_INT", 7, 1); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	t.Setenv("VW_TEST_INT", "0")
	if got := Int("VW_TEST_INT", 7, 1); got != 7 {
		t.Fatalf("expected fallback for value below min, got %d", got)
	}
	t.Setenv("VW_TEST_INT", "12")
	if got := Int("VW_TEST_INT", 7, 1); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestDurationAndBool(t *testing.T) {
	t.Setenv("VW_TEST_DUR", "90s")
	if got := Duration("VW_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	t.Setenv("VW_TEST_BOOL", "yes")
	if !Bool("VW_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("VW_TEST_BOOL", "maybe")
	if Bool("VW_TEST_BOOL", false) {
		t.Fatal("expected fallback false")
	}
}

func TestList(t *testing.T) {
	t.Setenv("VW_TEST_LIST", " a, ,b ,c")
	got := List("VW_TEST_LIST", "")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestPortValidation(t *testing.T) {
	t.Setenv("VW_TEST_PORT", "70000")
	if _, err := Port("VW_TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(t.TempDir() + "/nope.env"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
