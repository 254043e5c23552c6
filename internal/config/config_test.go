package config

import (
	"os"
	"testing"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/market_test")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.LockoutThreshold != 5 {
		t.Errorf("expected default lockout threshold 5, got %d", cfg.LockoutThreshold)
	}
	if cfg.ReservationTTLMin != 10 {
		t.Errorf("expected default reservation TTL 10, got %d", cfg.ReservationTTLMin)
	}
	if !cfg.IsDev() {
		t.Error("expected development mode by default")
	}
}

func TestValidate_ProductionNeedsSecrets(t *testing.T) {
	cfg := &Config{
		Env:               "production",
		LockoutThreshold:  5,
		ReservationTTLMin: 10,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for production without JWT_SECRET")
	}

	cfg.JWTSecret = "secret"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for production without collaborator endpoints")
	}

	cfg.DeidentifyURL = "https://api.example.com/v1/chat/completions"
	cfg.DeidentifyAPIKey = "key"
	cfg.PaymentVerifierURL = "https://verify.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid production config, got %v", err)
	}
}

func TestValidate_RejectsBadWindows(t *testing.T) {
	cfg := &Config{Env: "development", LockoutThreshold: 0, ReservationTTLMin: 10}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero lockout threshold")
	}
	cfg.LockoutThreshold = 5
	cfg.ReservationTTLMin = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero reservation TTL")
	}
}
