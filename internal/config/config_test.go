package config

import (
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "tuonane"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ProductionRequiresSSLModeAndMediaCreds(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and media credentials")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Call.RingTimeout != time.Minute {
		t.Fatalf("ring timeout default = %v", c.Call.RingTimeout)
	}
	if c.Call.TickInterval != time.Second {
		t.Fatalf("tick interval default = %v", c.Call.TickInterval)
	}
	if c.Call.DefaultRate.String() != "1.5" {
		t.Fatalf("default rate = %s", c.Call.DefaultRate)
	}
	if c.Call.MinStartBalance.String() != "10" {
		t.Fatalf("min start balance = %s", c.Call.MinStartBalance)
	}
}

func TestValidate_RefreshMustOutliveAccess(t *testing.T) {
	c := validBase()
	c.Auth.AccessTokenTTL = time.Hour
	c.Auth.RefreshTokenTTL = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for refresh TTL below access TTL")
	}
}
