package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/filesync/internal/client/config"
	"github.com/openmined/filesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoot(t *testing.T, configPath string, sub *cobra.Command) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	root := &cobra.Command{Use: "filesync"}
	root.PersistentFlags().StringP("config", "c", configPath, "")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	return root, &out
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
	"server_address": "10.1.2.3",
	"server_port": 4000,
	"root_path": "`+filepath.ToSlash(filepath.Join(dir, "root"))+`",
	"client_id": "5f0c7d0e-8f4e-4a43-9d59-2b1b9d0f3a11",
	"read_timeout": "45s"
}`), 0o600))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", path, "")
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "10.1.2.3", cfg.ServerAddress)
	assert.Equal(t, 4000, cfg.ServerPort)
	assert.Equal(t, filepath.Join(dir, "root"), cfg.RootPath)
	assert.Equal(t, "5f0c7d0e-8f4e-4a43-9d59-2b1b9d0f3a11", cfg.ClientID)
	assert.Equal(t, 45*time.Second, cfg.ReadTimeout.Std())
	assert.Equal(t, config.DefaultWriteTimeout, cfg.WriteTimeout.Std())
	assert.Equal(t, path, cfg.Path)
}

func TestLoadConfigEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FILESYNC_SERVER_ADDRESS", "sync.example.internal")
	t.Setenv("FILESYNC_ROOT_PATH", filepath.Join(dir, "root"))

	cmd := &cobra.Command{}
	cmd.Flags().String("config", filepath.Join(dir, "missing.json"), "")
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "sync.example.internal", cfg.ServerAddress)
	assert.Equal(t, config.DefaultServerPort, cfg.ServerPort)
	assert.Equal(t, filepath.Join(dir, "root"), cfg.RootPath)
	assert.Empty(t, cfg.ClientID)
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	root, out := testRoot(t, path, newConfigCmd())
	root.SetArgs([]string{"config", "--server", "192.168.1.20", "--port", "4100", "--root", filepath.Join(dir, "sync")})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "192.168.1.20:4100")

	saved, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", saved.ServerAddress)
	assert.Equal(t, 4100, saved.ServerPort)
	assert.Equal(t, filepath.Join(dir, "sync"), saved.RootPath)
	assert.True(t, saved.HasIdentity(), "identity generated on first use")

	// a second update keeps the identity
	root, _ = testRoot(t, path, newConfigCmd())
	root.SetArgs([]string{"config", "--port", "4200"})
	require.NoError(t, root.Execute())

	again, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4200, again.ServerPort)
	assert.Equal(t, saved.ClientID, again.ClientID)
	assert.Equal(t, saved.PublicKey, again.PublicKey)
}

func TestConfigCommand_RejectsBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	root, _ := testRoot(t, path, newConfigCmd())
	root.SetArgs([]string{"config", "--key", "not-a-key"})
	assert.Error(t, root.Execute())
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	t.Setenv("FILESYNC_ROOT_PATH", filepath.Join(dir, "root"))

	root, out := testRoot(t, path, newStatusCmd())
	root.SetArgs([]string{"status"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "Last sync:  never")
	assert.Contains(t, out.String(), "Tracked:    0 files")
}

func TestVersionCommand(t *testing.T) {
	root, out := testRoot(t, "", newVersionCmd())
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version.Detailed(), strings.TrimSpace(out.String()))
}
