package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8443" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Observability.Enabled {
		t.Fatal("telemetry must default off")
	}
	if cfg.Cache.MaxAge != 10*time.Minute {
		t.Fatalf("cache maxAge = %v", cfg.Cache.MaxAge)
	}
	if cfg.Authz.FailOpen {
		t.Fatal("fail-open must default off")
	}
	if cfg.Audit.FailureErrorEnabled {
		t.Fatal("audit failure errors must default off")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	err := os.WriteFile(path, []byte(`
server:
  addr: ":9000"
authz:
  failOpen: true
  storeTimeout: 5s
cache:
  capacity: 16
  maxAge: 3m
observability:
  enabled: true
  otlpEndpoint: otel-collector:4317
  sampleRate: 0.25
audit:
  sink: postgres
  failureErrorEnabled: true
policyStore:
  driver: postgres
  dsn: postgres://warden@localhost/warden
scanners:
  - name: remote-pii
    type: http
    endpoint: http://scanner:9090/scan
    engine: ">=1.0 <2"
`), 0o600)
	if err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Authz.FailOpen || cfg.Authz.StoreTimeout != 5*time.Second {
		t.Fatalf("authz = %+v", cfg.Authz)
	}
	if cfg.Cache.Capacity != 16 || cfg.Cache.MaxAge != 3*time.Minute {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if !cfg.Observability.Enabled ||
		cfg.Observability.OTLPEndpoint != "otel-collector:4317" ||
		cfg.Observability.SampleRate != 0.25 {
		t.Fatalf("observability = %+v", cfg.Observability)
	}
	if !cfg.Audit.FailureErrorEnabled || cfg.Audit.Sink != "postgres" {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
	if len(cfg.Scanners) != 1 || cfg.Scanners[0].Endpoint != "http://scanner:9090/scan" {
		t.Fatalf("scanners = %+v", cfg.Scanners)
	}
	// Unset file fields keep their defaults.
	if cfg.Audit.QueueSize != 1024 {
		t.Fatalf("queue size = %d", cfg.Audit.QueueSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("WARDEN_ADDR", ":7777")
	t.Setenv("WARDEN_JWT_SECRET", "s3cret")
	t.Setenv("WARDEN_FAIL_OPEN", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7777" || cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if !cfg.Authz.FailOpen {
		t.Fatal("env must enable fail-open")
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte("policyStore:\n  driver: mongo\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown driver must fail validation")
	}
}
