package env

import "testing"

func TestGetFallsBackWhenBlank(t *testing.T) {
	t.Setenv("LOSTFOUND_TEST_VALUE", "   ")
	if got := Get("LOSTFOUND_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("LOSTFOUND_TEST_VALUE", "set")
	if got := Get("LOSTFOUND_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("LOSTFOUND_TEST_FLAG", "true")
	if !Bool("LOSTFOUND_TEST_FLAG", false) {
		t.Fatal("expected true")
	}
	t.Setenv("LOSTFOUND_TEST_FLAG", "nope")
	if Bool("LOSTFOUND_TEST_FLAG", false) {
		t.Fatal("malformed value should use fallback")
	}
}
