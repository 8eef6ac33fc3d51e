package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes yamlContent to a temp config file and returns its path.
func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
redis:
  host: "redis.example.com"
  port: 6379
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Change to temp directory so Load() finds config.yaml
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	os.Unsetenv("PGHOST")
	os.Unsetenv("BASE_URL")

	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4443" {
		t.Errorf("expected BaseURL=http://localhost:4443 (auto-derived from PORT), got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Redis.Host != "redis.example.com" {
		t.Errorf("expected Redis.Host=redis.example.com (from yaml), got %s", cfg.Redis.Host)
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	path := writeConfig(t, "env: test\n")

	cfg, err := LoadFrom(path, "v1")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Ingestion.TagPolicy != "review" {
		t.Errorf("expected default tag policy review, got %q", cfg.Ingestion.TagPolicy)
	}
	if cfg.Ingestion.QueueStrategy != QueueStrategyGlobal {
		t.Errorf("expected default queue strategy global, got %q", cfg.Ingestion.QueueStrategy)
	}
	if !cfg.Conflicts.CanonicalIDs {
		t.Error("expected canonical conflict ids by default")
	}
	if cfg.LLM.IsEnabled() {
		t.Error("expected llm disabled by default")
	}
	if cfg.Redis.LockTTL != 10*time.Minute {
		t.Errorf("expected lock ttl 10m, got %s", cfg.Redis.LockTTL)
	}
}

func TestLoadFrom_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("INGESTION_TAG_POLICY", "auto_approve")
	t.Setenv("CONFLICTS_CANONICAL_IDS", "false")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "v1")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Ingestion.TagPolicy != "auto_approve" {
		t.Errorf("expected tag policy from env, got %q", cfg.Ingestion.TagPolicy)
	}
	if cfg.Conflicts.CanonicalIDs {
		t.Error("expected canonical ids disabled from env")
	}
}

func TestLoadFrom_SecretsOnlyFromEnv(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o
  api_key: from-yaml
database:
  password: from-yaml
`)
	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("PGPASSWORD", "")

	cfg, err := LoadFrom(path, "v1")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Database.Password != "" {
		t.Errorf("expected yaml password to be ignored, got %q", cfg.Database.Password)
	}
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad tag policy",
			yaml:    "ingestion:\n  tag_policy: yolo\n",
			wantErr: "tag_policy",
		},
		{
			name:    "bad queue strategy",
			yaml:    "ingestion:\n  queue_strategy: random\n",
			wantErr: "queue_strategy",
		},
		{
			name:    "provider without model",
			yaml:    "llm:\n  provider: anthropic\n",
			wantErr: "llm.model",
		},
		{
			name:    "unknown provider",
			yaml:    "llm:\n  provider: mystery\n",
			wantErr: "llm.provider",
		},
		{
			name:    "cert without key",
			yaml:    "tls_cert_path: /tmp/cert.pem\n",
			wantErr: "TLS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.yaml), "v1")
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateTLS_FilesMustExist(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(cert, []byte("cert"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{TLSCertPath: cert, TLSKeyPath: key}
	if err := cfg.validateTLS(); err == nil {
		t.Error("expected error for missing key file")
	}

	if err := os.WriteFile(key, []byte("key"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := cfg.validateTLS(); err != nil {
		t.Errorf("expected valid TLS config, got %v", err)
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	tests := []struct {
		input    string
		expected map[string]string
	}{
		{"", map[string]string{}},
		{"a=https://a/jwks", map[string]string{"a": "https://a/jwks"}},
		{" a = u1 , b=u2,garbage", map[string]string{"a": "u1", "b": "u2"}},
	}

	for _, tt := range tests {
		got := parseJWKSEndpoints(tt.input)
		if len(got) != len(tt.expected) {
			t.Errorf("parseJWKSEndpoints(%q) = %v, want %v", tt.input, got, tt.expected)
			continue
		}
		for k, v := range tt.expected {
			if got[k] != v {
				t.Errorf("parseJWKSEndpoints(%q)[%q] = %q, want %q", tt.input, k, got[k], v)
			}
		}
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	if IsRunningInDocker() {
		t.Skip("host rewriting applies inside docker")
	}
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p@ss", Database: "rules", SSLMode: "disable"}

	got := db.URL()
	if got != "postgres://u:p%40ss@db:5433/rules?sslmode=disable" {
		t.Errorf("unexpected URL: %s", got)
	}
	if !strings.Contains(db.ConnectionString(), "dbname=rules") {
		t.Errorf("unexpected connection string: %s", db.ConnectionString())
	}
}
