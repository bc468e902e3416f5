package relay

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.AllowedOrigins != "" {
		t.Fatalf("expected empty default origins, got %q", cfg.AllowedOrigins)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("RELAYCHAT_HTTP_ADDR", "env-relay")
	t.Setenv("RELAYCHAT_ALLOWED_ORIGINS", "https://env.example")

	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-relay",
		"-allowed-origins", "https://flag.example",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-relay" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.AllowedOrigins != "https://flag.example" {
		t.Fatalf("expected flag origins, got %q", cfg.AllowedOrigins)
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins(" https://a.example , ,https://b.example")
	if len(got) != 2 {
		t.Fatalf("origins = %v, want 2 entries", got)
	}
	if got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("origins = %v", got)
	}
	if splitOrigins("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
