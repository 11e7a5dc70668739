package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tender.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "local", cfg.Blob.Driver)
	assert.Equal(t, "data/blobs", cfg.Blob.Dir)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(8192), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 90, cfg.Semantic.TimeoutSecs)
	assert.Equal(t, 60000, cfg.Semantic.MaxChars)
	assert.InDelta(t, 1.0, cfg.Semantic.RequestsPerSecond, 0.001)
	assert.Equal(t, 3, cfg.Semantic.BreakerFailures)
	assert.Equal(t, 60, cfg.Semantic.BreakerResetSecs)
	assert.Empty(t, cfg.Detect.RulesPath)
	assert.Equal(t, "[Réponse manquante]", cfg.Export.MissingAnswerText)
	assert.True(t, cfg.Export.ValidateBeforeExport)
	assert.False(t, cfg.Export.PreserveEmptyPlaceholders)
	assert.False(t, cfg.Export.PersistExports)
	assert.Equal(t, 40000, cfg.Requirements.MaxChars)
	assert.Equal(t, 3, cfg.Requirements.RetryAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/tender
blob:
  driver: s3
  bucket: tenders
  prefix: prod
export:
  missing_answer_text: "Non renseigné"
  preserve_empty_placeholders: true
log:
  level: debug
  format: console
server:
  port: 9090
  cors_origins:
    - https://app.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tender", cfg.Store.DatabaseURL)
	assert.Equal(t, "s3", cfg.Blob.Driver)
	assert.Equal(t, "tenders", cfg.Blob.Bucket)
	assert.Equal(t, "Non renseigné", cfg.Export.MissingAnswerText)
	assert.True(t, cfg.Export.PreserveEmptyPlaceholders)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	// Defaults still apply for unset values
	assert.Equal(t, 90, cfg.Semantic.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TENDER_STORE_DRIVER", "postgres")
	t.Setenv("TENDER_LOG_LEVEL", "warn")
	t.Setenv("TENDER_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("TENDER_SERVER_PORT", "3000")
	t.Setenv("TENDER_SEMANTIC_TIMEOUT_SECS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Semantic.TimeoutSecs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults needed by every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "tender.db"
	cfg.Blob.Driver = "local"
	cfg.Blob.Dir = "data/blobs"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateParse_NoKeyNeeded(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("parse"))
	assert.NoError(t, cfg.Validate("export"))
	assert.NoError(t, cfg.Validate("validate"))
}

func TestValidateRequirements_NeedsKey(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("requirements")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("requirements"))
}

func TestValidatePostgres_NeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateBlob(t *testing.T) {
	cfg := validDefaults()
	cfg.Blob.Driver = "s3"
	err := cfg.Validate("parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob.bucket is required")

	cfg.Blob.Bucket = "tenders"
	assert.NoError(t, cfg.Validate("parse"))

	cfg.Blob.Driver = "gcs"
	err = cfg.Validate("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob.driver must be local or s3")

	// The jobs command never touches blobs.
	assert.NoError(t, cfg.Validate("jobs"))
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Server.Port = 9090
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateUnknownStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}
