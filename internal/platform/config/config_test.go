package config

import "testing"

func TestParseEnv(t *testing.T) {
	t.Setenv("ATTIES_TEST_ADDR", "env:1")
	var cfg struct {
		Addr string `env:"ATTIES_TEST_ADDR"`
		Size int    `env:"ATTIES_TEST_SIZE" envDefault:"4"`
	}
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "env:1" || cfg.Size != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseEnvRejectsBadValues(t *testing.T) {
	t.Setenv("ATTIES_TEST_SIZE", "four")
	var cfg struct {
		Size int `env:"ATTIES_TEST_SIZE"`
	}
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error")
	}
}
