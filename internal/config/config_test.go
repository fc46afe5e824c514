package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// chdirTemp changes into a fresh temp directory for the duration of the
// test. It stands in for t.Chdir, which needs a newer Go than this
// toolchain provides.
func chdirTemp(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Fatal(err)
		}
	})
}

func TestWriteAndLoadDefaultConfig(t *testing.T) {
	chdirTemp(t)

	if ConfigExists() {
		t.Fatal("fresh directory should not have a config")
	}
	if err := WriteDefaultConfig(); err != nil {
		t.Fatalf("writing default config: %v", err)
	}
	if err := WriteDefaultConfig(); err == nil {
		t.Error("second write should refuse to overwrite")
	}

	// The default config has no credentials yet, so loading must fail
	// validation rather than hand back an unusable config.
	if _, err := LoadAndValidateConfig(); err == nil {
		t.Fatal("default config without credentials should not validate")
	}
}

func TestLoadConfigWithDefaultsApplied(t *testing.T) {
	chdirTemp(t)

	raw := `username: root
password: secret
localPath: ./plugins
`
	if err := os.WriteFile(ConfigFileName, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAndValidateConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Errorf("defaults not applied: host=%q port=%q", cfg.Host, cfg.Port)
	}
	if cfg.RemotePath != DefaultRemotePath || cfg.Suffix != DefaultSuffix {
		t.Errorf("defaults not applied: remotePath=%q suffix=%q", cfg.RemotePath, cfg.Suffix)
	}
}

func TestLoadConfigInterpolatesEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PLUGSYNC_TEST_PASSWORD", "from-environment")

	dotEnv := "PLUGSYNC_TEST_HOST=192.168.1.50\nPLUGSYNC_TEST_PASSWORD=from-dotenv\n"
	if err := os.WriteFile(".env", []byte(dotEnv), 0644); err != nil {
		t.Fatal(err)
	}

	raw := `username: root
password: ${PLUGSYNC_TEST_PASSWORD}
host: ${PLUGSYNC_TEST_HOST}
localPath: ./plugins
`
	if err := os.WriteFile(ConfigFileName, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAndValidateConfig()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	// OS environment wins over .env; .env fills the rest.
	if cfg.Password != "from-environment" {
		t.Errorf("password = %q, want the exported value", cfg.Password)
	}
	if cfg.Host != "192.168.1.50" {
		t.Errorf("host = %q, want the .env value", cfg.Host)
	}
}

func TestInterpolateLeavesUnknownVariables(t *testing.T) {
	chdirTemp(t)

	out := interpolateEnv("password: ${PLUGSYNC_TEST_NO_SUCH_VAR}")
	if !strings.Contains(out, "${PLUGSYNC_TEST_NO_SUCH_VAR}") {
		t.Errorf("unknown variable should survive untouched, got %q", out)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := DefaultConfig()
	valid.Password = "secret"
	if err := ValidateConfig(&valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty username", func(c *Config) { c.Username = "" }, "username"},
		{"empty host", func(c *Config) { c.Host = "" }, "host"},
		{"bad port", func(c *Config) { c.Port = "99999" }, "port"},
		{"non-numeric port", func(c *Config) { c.Port = "ssh" }, "port"},
		{"no credentials", func(c *Config) { c.Password = "" }, "password or privateKey"},
		{"missing key file", func(c *Config) { c.PrivateKey = "/does/not/exist" }, "private key"},
		{"suffix without dot", func(c *Config) { c.Suffix = "so" }, "suffix"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Password = "secret"
			c.mutate(&cfg)
			err := ValidateConfig(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestDeviceTimeouts(t *testing.T) {
	var d Device
	if d.ConnectTimeout() != 3*time.Second {
		t.Errorf("default connect timeout = %v", d.ConnectTimeout())
	}
	if d.CommandTimeout() != 30*time.Second {
		t.Errorf("default command timeout = %v", d.CommandTimeout())
	}

	d = Device{ConnectTimeoutSec: 10, CommandTimeoutSec: 120}
	if d.ConnectTimeout() != 10*time.Second || d.CommandTimeout() != 120*time.Second {
		t.Errorf("configured timeouts not honored: %v %v", d.ConnectTimeout(), d.CommandTimeout())
	}
}
