package main

import (
	"testing"

	"tokocabang/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", AdminPassword: "Kuat!Sekali-2026"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "pendek"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "Admin123"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "zzzzzzzzzz"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "abcdefghij"},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected weak security config to be rejected: %+v", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "Kuat!Sekali-2026"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
