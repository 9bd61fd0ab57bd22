package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
  shutdown_timeout: 3s
vectorstore:
  provider: qdrant
  index: tickets
  qdrant:
    host: qdrant.internal
sql:
  driver: sqlite
  dsn: file:test.db
retrieval:
  namespaces: [mongodb-files, postgresql-data]
testcases:
  output_dir: /tmp/cases
`, 0600)

	t.Setenv("INGESTD_SERVER__PORT", "9292")
	t.Setenv("INGESTD_JIRA__TOKEN", "jira-secret")
	t.Setenv("INGESTD_VECTORSTORE__QDRANT__USE_TLS", "true")
	t.Setenv("INGESTD_TESTCASES__FIX_VERSION", "Sprint_2026_01")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9292, cfg.Server.Port, "env overrides file")
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "tickets", cfg.VectorStore.Index)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 6334, cfg.VectorStore.Qdrant.Port, "default kept")
	assert.True(t, cfg.VectorStore.Qdrant.UseTLS)
	assert.Equal(t, "file:test.db", cfg.SQL.DSN.Value())
	assert.Equal(t, "jira-secret", cfg.Jira.Token.Value())
	assert.Equal(t, []string{"mongodb-files", "postgresql-data"}, cfg.Retrieval.Namespaces)
	assert.Equal(t, "mongodb-files", cfg.Ingest.Namespace)
	assert.Equal(t, "/tmp/cases", cfg.TestCases.OutputDir)
	assert.Equal(t, "Sprint_2026_01", cfg.TestCases.FixVersion)
	assert.Equal(t, 1, cfg.TestCases.Limit, "default kept")
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n", 0644)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "vectorstore:\n  provider: pinecone\n", 0600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vectorstore provider")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.SQL.Driver = "oracle"
	cfg.Embeddings.Dimension = 768
	cfg.TestCases.Limit = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
	assert.Contains(t, err.Error(), "unsupported sql driver")
	assert.Contains(t, err.Error(), "does not match vectorstore dimension")
	assert.Contains(t, err.Error(), "testcases limit")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sql.dsn", envKey("INGESTD_SQL__DSN"))
	assert.Equal(t, "vectorstore.qdrant.use_tls", envKey("INGESTD_VECTORSTORE__QDRANT__USE_TLS"))
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Token":"[REDACTED]"}`, string(out))

	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_Or(t *testing.T) {
	assert.Equal(t, 10*time.Second, Duration(0).Or(10*time.Second))
	assert.Equal(t, time.Second, Duration(time.Second).Or(10*time.Second))
}
