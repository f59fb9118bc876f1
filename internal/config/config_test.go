package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossas/broker/internal/transport"
)

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
integrations:
  - type: git
    poll_interval: 5m
    remote: https://github.com/example/repo.git
    auth:
      http_header:
        header: "AUTHORIZATION: Bearer abc"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://app.fossa.com", cfg.Endpoint)
	assert.Equal(t, "s3cr3t", cfg.Key.ExposeString())
	require.Len(t, cfg.Integrations, 1)

	integration := cfg.Integrations[0]
	assert.Equal(t, "git", integration.Kind)
	assert.Equal(t, transport.SchemeHTTP, integration.Scheme)
	assert.True(t, integration.ImportBranches.Enabled)
	assert.True(t, integration.ImportTags.Enabled)

	header, ok := integration.Auth.(transport.HTTPHeader)
	require.True(t, ok)
	assert.Equal(t, "AUTHORIZATION: Bearer abc", header.Header.ExposeString())
}

func TestLoadRejectsMissingEndpointOrKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
key: s3cr3t
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsSSHWithNoneAuth(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
integrations:
  - type: git
    poll_interval: 5m
    remote: git@github.com:example/repo.git
    auth:
      none:
        transport: ssh
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMultipleAuthVariants(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
integrations:
  - type: git
    poll_interval: 5m
    remote: https://github.com/example/repo.git
    auth:
      http_header:
        header: "x"
      http_basic:
        username: u
        password: p
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAcceptsValidTraceRetention(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
debugging:
  trace_retention: 7d
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*24*60*60, int(cfg.Debugging.TraceRetention.Duration.Seconds()))
}

func TestLoadRejectsTraceRetentionBelowMinimum(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
debugging:
  trace_retention: 1ms
`)
	_, err := Load(path)
	assert.Error(t, err, "1ms is below the minimum retention and must be rejected")
}

func TestLoadAcceptsSubSecondPollInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
integrations:
  - type: git
    poll_interval: 1ms
    remote: https://github.com/example/repo.git
    auth:
      none:
        transport: http
`)
	cfg, err := Load(path)
	require.NoError(t, err, "1ms is not rejected for poll_interval, unlike trace_retention")
	assert.Equal(t, 1*time.Millisecond, cfg.Integrations[0].PollInterval.Duration)
}

func TestImportModeDefaultsToEnabledWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
integrations:
  - type: git
    poll_interval: 5m
    remote: https://github.com/example/repo.git
    auth:
      none:
        transport: http
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Integrations[0].ImportBranches.Enabled)
	assert.Empty(t, cfg.Integrations[0].ImportBranches.Watched)
}

func TestImportModeDisabledAndWatchedList(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
endpoint: https://app.fossa.com
key: s3cr3t
integrations:
  - type: git
    poll_interval: 5m
    remote: https://github.com/example/repo.git
    auth:
      none:
        transport: http
    import_branches:
      enabled: [main, release]
    import_tags: disabled
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	branches := cfg.Integrations[0].ImportBranches
	assert.True(t, branches.Enabled)
	assert.Equal(t, []string{"main", "release"}, branches.Watched)

	tags := cfg.Integrations[0].ImportTags
	assert.False(t, tags.Enabled)
}

func TestDiscoverPrefersExplicitPath(t *testing.T) {
	path, err := Discover("/some/explicit/path.yml")
	require.NoError(t, err)
	assert.Equal(t, "/some/explicit/path.yml", path)
}

func TestDiscoverHonorsDisableEnvVar(t *testing.T) {
	t.Setenv("DISABLE_FILE_DISCOVERY", "true")
	_, err := Discover("")
	assert.Error(t, err)
}

func TestDiscoverFindsConfigInCWD(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "endpoint: https://app.fossa.com\nkey: s3cr3t\n")

	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	require.NoError(t, os.Chdir(dir))

	path, err := Discover("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yml"), path)
}
