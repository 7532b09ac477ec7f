package main

import (
	"testing"

	"salesdesk/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateConfigRejectsWeakSecret(t *testing.T) {
	_, err := validateConfig(config.Config{AuthSecret: "short", StoreDriver: config.DriverMemory, ReportTimezone: "UTC"})
	if err == nil {
		t.Fatalf("expected weak secret to be rejected")
	}
}

func TestValidateConfigChecksDriverSettings(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: strongSecret, StoreDriver: config.DriverPostgres, ReportTimezone: "UTC"},
		{AuthSecret: strongSecret, StoreDriver: config.DriverFirestore, ReportTimezone: "UTC"},
		{AuthSecret: strongSecret, StoreDriver: "mongo", ReportTimezone: "UTC"},
		{AuthSecret: strongSecret, StoreDriver: config.DriverMemory, ReportTimezone: "Mars/Olympus_Mons"},
	}
	for _, cfg := range cases {
		if _, err := validateConfig(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestValidateConfigAcceptsStrongValues(t *testing.T) {
	loc, err := validateConfig(config.Config{
		AuthSecret:     strongSecret,
		StoreDriver:    config.DriverPostgres,
		DatabaseURL:    "postgres://localhost/sales",
		ReportTimezone: "UTC",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
	if loc.String() != "UTC" {
		t.Fatalf("expected UTC location, got %s", loc)
	}
}
