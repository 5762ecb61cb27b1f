package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIssuer(t *testing.T) {
	assert.Equal(t, "https://idp.example.com", normalizeIssuer("https://idp.example.com/"))
	assert.Equal(t, "https://idp.example.com", normalizeIssuer("  https://idp.example.com  "))
	assert.Equal(t, "", normalizeIssuer(""))
}

func TestAuthConfigured(t *testing.T) {
	var cfg Config
	assert.False(t, cfg.AuthConfigured())

	cfg.Auth.OktaDomain = "https://idp.example.com"
	cfg.Auth.ClientID = "client"
	cfg.Auth.ClientSecret = "secret"
	assert.False(t, cfg.AuthConfigured())

	cfg.Auth.RedirectURL = "https://localhost:8443/auth/callback"
	assert.True(t, cfg.AuthConfigured())
}

func TestAuthPartial(t *testing.T) {
	var cfg Config
	assert.False(t, cfg.AuthPartial())

	cfg.Auth.OktaDomain = "https://idp.example.com"
	assert.True(t, cfg.AuthPartial())

	cfg.Auth.ClientID = "client"
	cfg.Auth.ClientSecret = "secret"
	cfg.Auth.RedirectURL = "https://localhost:8443/auth/callback"
	assert.False(t, cfg.AuthPartial())
}
