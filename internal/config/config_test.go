package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  host: 127.0.0.1
  port: 10000
  read_timeout_ms: 15000
  write_timeout_ms: 15000
auth:
  admin_username: admin
  admin_password: super-secret-password
  jwt_secret: 0123456789abcdef0123456789abcdef
  jwt_expiry_hours: 12
database:
  driver: sqlite
  path: /var/lib/upwatch/upwatch.db
monitor:
  max_concurrent_jobs: 50
logging:
  level: debug
  format: json
notifications:
  email:
    sender: upwatch@example.com
    server: mail.example.com:25
    subject_tmpl: "Monitor {{monitor_description}} is {{state}}"
    body_tmpl: "{{msg}}"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 10000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/var/lib/upwatch/upwatch.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Monitor.MaxConcurrentJobs != 50 {
		t.Errorf("max_concurrent_jobs = %d", cfg.Monitor.MaxConcurrentJobs)
	}
	if cfg.Auth.GetJWTExpiry() != 12*time.Hour {
		t.Errorf("jwt expiry = %v", cfg.Auth.GetJWTExpiry())
	}
	if cfg.Server.GetReadTimeout() != 15*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.GetReadTimeout())
	}
	if cfg.Notifications.Email.Sender != "upwatch@example.com" {
		t.Errorf("email sender = %q", cfg.Notifications.Email.Sender)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `
auth:
  admin_password: super-secret-password
  jwt_secret: 0123456789abcdef0123456789abcdef
database:
  driver: sqlite
  path: upwatch.db
`
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 10000 {
		t.Errorf("default port = %d, want 10000", cfg.Server.Port)
	}
	if cfg.Auth.AdminUsername != "admin" {
		t.Errorf("default admin username = %q", cfg.Auth.AdminUsername)
	}
	if cfg.Auth.JWTExpiryHours != 24 {
		t.Errorf("default jwt expiry hours = %d", cfg.Auth.JWTExpiryHours)
	}
	if cfg.Monitor.MaxConcurrentJobs != 200 {
		t.Errorf("default max_concurrent_jobs = %d", cfg.Monitor.MaxConcurrentJobs)
	}
	if cfg.Database.SSLMode != "disable" {
		t.Errorf("default ssl_mode = %q", cfg.Database.SSLMode)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		errPart string
	}{
		{
			"short jwt secret",
			func(s string) string {
				return strings.Replace(s, "jwt_secret: 0123456789abcdef0123456789abcdef", "jwt_secret: short", 1)
			},
			"jwt_secret",
		},
		{
			"default admin password",
			func(s string) string {
				return strings.Replace(s, "admin_password: super-secret-password", "admin_password: changeme", 1)
			},
			"ADMIN_PASSWORD",
		},
		{
			"unknown driver",
			func(s string) string {
				return strings.Replace(s, "driver: sqlite", "driver: oracle", 1)
			},
			"driver",
		},
		{
			"sqlite without path",
			func(s string) string {
				return strings.Replace(s, "path: /var/lib/upwatch/upwatch.db", "path: \"\"", 1)
			},
			"path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validYAML)))
			if err == nil {
				t.Fatal("want validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error = %v, want mention of %q", err, tt.errPart)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPWATCH_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("UPWATCH_AUTH_ADMIN_PASSWORD", "env-password")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("database path = %q, env override not applied", cfg.Database.Path)
	}
	if cfg.Auth.AdminPassword != "env-password" {
		t.Errorf("admin password env override not applied")
	}
}

func TestGetDSN(t *testing.T) {
	pg := &DatabaseConfig{
		Driver: "postgres", Host: "db.example.com", Port: 5432,
		User: "upwatch", Password: "pw", DBName: "upwatch", SSLMode: "disable",
	}
	dsn := pg.GetDSN()
	for _, part := range []string{"host=db.example.com", "port=5432", "dbname=upwatch", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q missing %q", dsn, part)
		}
	}

	sq := &DatabaseConfig{Driver: "sqlite", Path: "/data/upwatch.db"}
	if sq.GetDSN() != "/data/upwatch.db" {
		t.Errorf("sqlite dsn = %q", sq.GetDSN())
	}
}

func TestIsLogLevelValid(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "Error"} {
		l := &LoggingConfig{Level: level}
		if !l.IsLogLevelValid() {
			t.Errorf("level %q should be valid", level)
		}
	}
	l := &LoggingConfig{Level: "verbose"}
	if l.IsLogLevelValid() {
		t.Error("level verbose should be invalid")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("want error for missing config file")
	}
}
