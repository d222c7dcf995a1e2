package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openmined/filesync/internal/identity"
	"github.com/openmined/filesync/internal/server"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configCmd(path string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", path, "")
	cmd.Flags().String("bind", "", "")
	cmd.Flags().String("root", "", "")
	cmd.Flags().String("db", "", "")
	return cmd
}

func TestLoadConfig_BootstrapsKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config", "server.yaml")

	cfg, err := loadConfig(configCmd(path))
	require.NoError(t, err)
	assert.Equal(t, server.DefaultBind, cfg.Bind)
	assert.Equal(t, server.DefaultMaxConnections, cfg.MaxConnections)
	assert.Equal(t, server.DefaultReadTimeout, cfg.ReadTimeout)
	require.NotEmpty(t, cfg.PublicKey)
	_, err = identity.ParsePublicKey(cfg.PublicKey)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// keys are stable across restarts
	again, err := loadConfig(configCmd(path))
	require.NoError(t, err)
	assert.Equal(t, cfg.PublicKey, again.PublicKey)
}

func TestLoadConfig_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind: 127.0.0.1:4000
root_path: /srv/filesync
max_connections: 8
read_timeout: 30s
exclude:
  - "**/*.log"
`), 0o600))
	t.Setenv("FILESYNC_SERVER_MAX_CONNECTIONS", "16")

	cmd := configCmd(path)
	require.NoError(t, cmd.Flags().Set("root", "/data/storage"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Bind)
	assert.Equal(t, "/data/storage", cfg.RootPath)
	assert.Equal(t, 16, cfg.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, []string{"**/*.log"}, cfg.Exclude)
	assert.NotEmpty(t, cfg.PublicKey, "keys added to an existing config")
}

func TestLoadConfig_EnvForKeysMissingFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind: 127.0.0.1:4000\n"), 0o600))
	t.Setenv("FILESYNC_SERVER_MAX_FRAME_SIZE", "4096")
	t.Setenv("FILESYNC_SERVER_EXCLUDE", "**/*.log,cache/**")
	t.Setenv("FILESYNC_SERVER_SHUTDOWN_GRACE", "2s")

	cfg, err := loadConfig(configCmd(path))
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.MaxFrameSize)
	assert.Equal(t, []string{"**/*.log", "cache/**"}, cfg.Exclude)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, server.DefaultMaxConnections, cfg.MaxConnections)
}

func TestConfigKeysMatchTags(t *testing.T) {
	typ := reflect.TypeOf(server.Config{})
	var tags []string
	for i := 0; i < typ.NumField(); i++ {
		tags = append(tags, typ.Field(i).Tag.Get("mapstructure"))
	}
	assert.ElementsMatch(t, tags, server.ConfigKeys)
}

func TestKeygen(t *testing.T) {
	root := &cobra.Command{Use: "filesync-server"}
	root.AddCommand(newKeygenCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})
	require.NoError(t, root.Execute())

	var public, private string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "public_key: "); ok {
			public = v
		}
		if v, ok := strings.CutPrefix(line, "private_key: "); ok {
			private = v
		}
	}
	kp := &identity.KeyPair{PublicKey: public, PrivateKey: private}
	assert.NoError(t, kp.Validate())
}
