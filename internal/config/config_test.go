package config

import (
	"testing"
	"time"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/contracts")
	t.Setenv("ESIGN_MOCK", "true")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 8080 || c.PollInterval != 30*time.Second || c.EnforceSignOrder {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ESIGN_MOCK", "true")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestLoadRequiresProviderConfigOutsideMock(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/contracts")
	t.Setenv("ESIGN_MOCK", "false")
	t.Setenv("ESIGN_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without ESIGN_BASE_URL")
	}

	t.Setenv("ESIGN_BASE_URL", "https://esign.example")
	t.Setenv("ESIGN_WEBHOOK_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without ESIGN_WEBHOOK_SECRET")
	}
}

func TestLoadRejectsSubSecondPollInterval(t *testing.T) {
	setBase(t)
	t.Setenv("POLL_INTERVAL", "100ms")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for sub-second poll interval")
	}
}
