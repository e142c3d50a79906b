package config

import (
	"testing"
	"time"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{"a\nb\nc", []string{"a", "b", "c"}},
		{"  a , b ,\n c ", []string{"a", "b", "c"}},
		{"", nil},
		{" , ,\n", nil},
	}

	for _, tc := range tests {
		got := SplitList(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("SplitList(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestLoadEnforcesTimerFloors(t *testing.T) {
	t.Setenv("RECOVERY_INTERVAL_MS", "1000") // below the 5s floor
	t.Setenv("REFRESH_INTERVAL_MS", "10000") // below the 60s floor

	cfg := Load()
	if cfg.RecoveryInterval != 5*time.Second {
		t.Fatalf("recovery interval = %v", cfg.RecoveryInterval)
	}
	if cfg.RefreshInterval != time.Minute {
		t.Fatalf("refresh interval = %v", cfg.RefreshInterval)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("SOME_INT", "42")
	if got := GetEnvAsInt("SOME_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}

	t.Setenv("SOME_INT", "not a number")
	if got := GetEnvAsInt("SOME_INT", 7); got != 7 {
		t.Fatalf("bad value should fall back, got %d", got)
	}

	if got := GetEnvAsInt("UNSET_INT_VAR", 7); got != 7 {
		t.Fatalf("missing value should fall back, got %d", got)
	}
}
