package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Discovery.Host != "localhost" || cfg.Discovery.Port != 9222 {
		t.Errorf("unexpected discovery defaults: %+v", cfg.Discovery)
	}
	if cfg.Server.Port != 8088 || cfg.Server.Mode != "release" {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if !cfg.Step.StopOnError {
		t.Error("expected StopOnError to default true")
	}
	if cfg.RateLimit.RequestsPerSecond != 5.0 || cfg.RateLimit.Burst != 10 {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PILOT_DISCOVERY_HOST", "example.internal")
	t.Setenv("PILOT_DISCOVERY_PORT", "9333")
	t.Setenv("PILOT_AUTH_ENABLED", "true")
	t.Setenv("PILOT_API_KEYS", "key-a, key-b ,key-c")
	t.Setenv("PILOT_IGNORED_STATUS_CODES", "301, 302,bogus")
	t.Setenv("PILOT_STEP_TIMEOUT", "15s")

	cfg := Load()

	if cfg.Discovery.Host != "example.internal" || cfg.Discovery.Port != 9333 {
		t.Errorf("unexpected discovery overrides: %+v", cfg.Discovery)
	}
	if !cfg.Auth.Enabled {
		t.Error("expected auth to be enabled")
	}
	if len(cfg.Auth.APIKeys) != 3 || cfg.Auth.APIKeys[0] != "key-a" || cfg.Auth.APIKeys[2] != "key-c" {
		t.Errorf("unexpected API keys: %v", cfg.Auth.APIKeys)
	}
	if len(cfg.Capture.IgnoredStatusCodes) != 2 || cfg.Capture.IgnoredStatusCodes[0] != 301 || cfg.Capture.IgnoredStatusCodes[1] != 302 {
		t.Errorf("unexpected ignored status codes: %v", cfg.Capture.IgnoredStatusCodes)
	}
	if cfg.Step.DefaultTimeout.String() != "15s" {
		t.Errorf("unexpected step timeout: %v", cfg.Step.DefaultTimeout)
	}
}

func TestLoad_MalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("PILOT_DISCOVERY_PORT", "not-a-number")
	t.Setenv("PILOT_RECONNECT", "not-a-bool")

	cfg := Load()

	if cfg.Discovery.Port != 9222 {
		t.Errorf("expected malformed int env to fall back to default, got %d", cfg.Discovery.Port)
	}
	if cfg.Transport.Reconnect {
		t.Error("expected malformed bool env to fall back to default (false)")
	}
}
