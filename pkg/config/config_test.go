package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  listen_addr: ":9090"
data:
  dir: "${NOVAADAPT_TEST_DATA_DIR}"
router:
  default_model: primary
  endpoints:
    - name: primary
      base_url: https://example.test/v1
      model: gpt-test
      api_key_env: PRIMARY_API_KEY
    - name: fallback
      base_url: https://example-fallback.test/v1
      model: gpt-fallback
`

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "novaadapt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("NOVAADAPT_TEST_DATA_DIR", "/tmp/novaadapt-test-data")
	t.Setenv("NOVAADAPT_AUTH_TOKEN", "secret-token")
	path := writeTestConfig(t, testYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.ListenAddr)
	require.Equal(t, "/tmp/novaadapt-test-data", cfg.Data.Dir)
	require.Equal(t, "primary", cfg.Router.DefaultModel)
	require.Len(t, cfg.Router.Endpoints, 2)
	require.Equal(t, "secret-token", cfg.Auth.Token)

	// Defaults survive for fields the YAML left unset.
	require.Equal(t, 4, cfg.Jobs.Workers)
	require.Equal(t, 25, cfg.Orchestrator.DefaultMaxActions)
	require.Equal(t, 90, cfg.Router.TimeoutSeconds)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadRejectsDefaultModelNotAmongEndpoints(t *testing.T) {
	path := writeTestConfig(t, `
data:
  dir: "/tmp/x"
router:
  default_model: nope
  endpoints:
    - name: primary
      base_url: https://example.test/v1
      model: gpt-test
`)
	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "router.default_model", verr.Field)
}

func TestLoadRejectsNoEndpoints(t *testing.T) {
	path := writeTestConfig(t, `
data:
  dir: "/tmp/x"
`)
	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "router.endpoints", verr.Field)
}
