package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// exportEnvVars lists all export-related env vars that must be cleared between tests.
var exportEnvVars = []string{
	"TQ_EXPORT_INTERVAL", "TQ_EXPORT_S3_BUCKET", "TQ_EXPORT_S3_ENDPOINT",
	"TQ_EXPORT_S3_REGION", "TQ_EXPORT_S3_KEY", "TQ_EXPORT_GIT_REPO",
	"TQ_EXPORT_GIT_FILE", "TQ_EXPORT_GIT_BRANCH",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TQ_DATABASE_URL", "TQ_GRPC_ADDR", "TQ_HTTP_ADDR", "TQ_NATS_URL", "TQ_AUTH_TOKEN", "TQ_PRESENCE_IDLE"} {
		t.Setenv(key, "")
	}
	for _, key := range exportEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"TQ_DATABASE_URL": "postgres://localhost/tq"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"TQ_DATABASE_URL": "postgres://db:5432/tq",
				"TQ_GRPC_ADDR":    ":5050",
				"TQ_HTTP_ADDR":    ":3000",
				"TQ_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["TQ_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["TQ_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("TQ_DATABASE_URL", "postgres://localhost/tq")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ExportInterval != 10*time.Minute {
		t.Errorf("ExportInterval = %v, want 10m", cfg.ExportInterval)
	}
	if cfg.PresenceIdle != 2*time.Minute {
		t.Errorf("PresenceIdle = %v, want 2m", cfg.PresenceIdle)
	}
	if cfg.ExportS3Region != "us-east-1" {
		t.Errorf("ExportS3Region = %q, want %q", cfg.ExportS3Region, "us-east-1")
	}
	if cfg.ExportS3Key != "tablequeue/export.jsonl" {
		t.Errorf("ExportS3Key = %q", cfg.ExportS3Key)
	}
	if cfg.ExportGitBranch != "main" {
		t.Errorf("ExportGitBranch = %q, want %q", cfg.ExportGitBranch, "main")
	}
}

func TestLoadInvalidDurations(t *testing.T) {
	for _, key := range []string{"TQ_EXPORT_INTERVAL", "TQ_PRESENCE_IDLE"} {
		t.Run(key, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("TQ_DATABASE_URL", "postgres://localhost/tq")
			t.Setenv(key, "not-a-duration")
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}

func TestLoadExportDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("TQ_DATABASE_URL", "postgres://localhost/tq")
	t.Setenv("TQ_EXPORT_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ExportInterval != 0 {
		t.Errorf("ExportInterval = %v, want 0 (disabled)", cfg.ExportInterval)
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}

func TestLoadProfile_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Policy.ResyncInterval.Duration != 60*time.Second {
		t.Errorf("ResyncInterval = %v, want 60s", p.Policy.ResyncInterval)
	}
	if p.Policy.SeatedReturnDelay.Duration != 4*time.Second {
		t.Errorf("SeatedReturnDelay = %v, want 4s", p.Policy.SeatedReturnDelay)
	}
	if p.StateDir != filepath.Join(filepath.Dir(path), "state") {
		t.Errorf("StateDir = %q", p.StateDir)
	}
}

func TestProfile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.toml")
	p := DefaultProfile()
	p.UserID = "u-42"
	p.ServerURL = "https://tq.example.com"
	p.Policy.ResyncInterval = Duration{15 * time.Second}
	p.Policy.ClosingSoonMinutes = 45

	if err := SaveProfile(path, p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if got.UserID != "u-42" || got.ServerURL != "https://tq.example.com" {
		t.Errorf("got %+v", got)
	}
	if got.Policy.ResyncInterval.Duration != 15*time.Second {
		t.Errorf("ResyncInterval = %v", got.Policy.ResyncInterval)
	}
	if hp := got.Policy.HoursPolicy(); hp.ClosingSoon != 45*time.Minute || hp.OpeningSoon != time.Hour {
		t.Errorf("HoursPolicy = %+v", hp)
	}
}

func TestLoadProfile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	data := "user_id = \"u-7\"\n\n[policy]\nresync_interval = \"30s\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Policy.ResyncInterval.Duration != 30*time.Second {
		t.Errorf("ResyncInterval = %v, want 30s", p.Policy.ResyncInterval)
	}
	if p.Policy.NearbyMaxClusters != 4 {
		t.Errorf("NearbyMaxClusters = %d, want default 4", p.Policy.NearbyMaxClusters)
	}
}

func TestLoadProfile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte("[policy]\nresync_interval = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestProfile_ApplyEnv(t *testing.T) {
	t.Setenv("TQ_SERVER", "http://staging:8080")
	t.Setenv("TQ_USER", "")
	t.Setenv("TQ_TOKEN", "")
	t.Setenv("TQ_NATS_URL", "nats://staging:4222")

	p := DefaultProfile()
	p.UserID = "u-1"
	p.ApplyEnv()
	if p.ServerURL != "http://staging:8080" || p.NATSURL != "nats://staging:4222" {
		t.Errorf("got %+v", p)
	}
	if p.UserID != "u-1" {
		t.Errorf("UserID = %q, empty env should not override", p.UserID)
	}
}
