package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `[pushgate]
listen=:8443
connection-string=postgres://pushgate@localhost/pushgate
redis=redis://localhost:6379
default-origin=https://github.com
chain-timeout=10s
repos=/etc/pushgate/repos.yml

[pushgate::origins]
gitlab.example.com=https://gitlab.example.com

[objects]
s3-bucket=pushgate-audit
s3-prefix=packs
`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.ini", sampleINI))
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.Listen)
	assert.Equal(t, "postgres://pushgate@localhost/pushgate", cfg.ConnectionString)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "https://github.com", cfg.DefaultOrigin)
	assert.Equal(t, 10*time.Second, cfg.ChainTimeout)
	assert.Equal(t, "/etc/pushgate/repos.yml", cfg.ReposFile)
	assert.Equal(t, "https://gitlab.example.com", cfg.Origins["gitlab.example.com"])
	assert.Equal(t, "pushgate-audit", cfg.S3Bucket)
	assert.Equal(t, "packs", cfg.S3Prefix)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.ini", "[pushgate]\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, "https://github.com", cfg.DefaultOrigin)
	assert.Equal(t, 30*time.Second, cfg.ChainTimeout)
	assert.Empty(t, cfg.ConnectionString)
	assert.Empty(t, cfg.Origins)
}

func TestLoadBadChainTimeout(t *testing.T) {
	_, err := Load(writeFile(t, "config.ini", "[pushgate]\nchain-timeout=whenever\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}

func TestLoadRepos(t *testing.T) {
	path := writeFile(t, "repos.yml", `repositories:
  - project: finos
    name: git-proxy
    url: https://github.com/finos/git-proxy.git
    users:
      canPush:
        - alice
      canAuthorise:
        - carol
  - name: repo
    url: https://host.com/repo.git
`)
	repos, err := LoadRepos(path)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "finos", repos[0].Project)
	assert.Equal(t, "git-proxy", repos[0].Name)
	assert.Equal(t, []string{"alice"}, repos[0].Users.CanPush)
	assert.Equal(t, []string{"carol"}, repos[0].Users.CanAuthorise)
	assert.Empty(t, repos[1].Project)
}
