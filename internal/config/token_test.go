package config

import "testing"

func TestEnsureAPITokenGeneratesAndReuses(t *testing.T) {
	t.Setenv("PLANFORGE_API_TOKEN", "")
	dir := t.TempDir()

	first, err := EnsureAPIToken(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}

	second, err := EnsureAPIToken(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("token not stable across calls: %q vs %q", first, second)
	}
}

func TestEnsureAPITokenEnvOverride(t *testing.T) {
	t.Setenv("PLANFORGE_API_TOKEN", "from-env")

	token, err := EnsureAPIToken(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want env override", token)
	}
}
