package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bjarneo/peerchat/internal/config"
)

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("PEERCHAT_NICKNAME", "Tester#12345")
	t.Setenv("PEERCHAT_DOWNLOAD_DIR", filepath.Join(dir, "downloads"))

	seed := config.DefaultConfig()
	seed.Logging.File = filepath.Join(dir, "peerchat.log")
	require.NoError(t, seed.Save(path))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"config", "--config", path, "--transport", "ws"})
	require.NoError(t, rootCmd.Execute())

	var got config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "Tester#12345", got.Nickname)
	assert.Equal(t, config.TransportWebSocket, got.Network.Transport)
	assert.Equal(t, filepath.Join(dir, "downloads"), got.Download.Dir)

	_, err := os.Stat(seed.Logging.File)
	assert.NoError(t, err, "logger writes to the configured file")
}

func TestWebsocketURL(t *testing.T) {
	cfg = config.DefaultConfig()
	assert.Equal(t, "ws://10.0.0.2:8080/peer", websocketURL("10.0.0.2:8080"))
	assert.Equal(t, "wss://example.org/chat", websocketURL("wss://example.org/chat"))
}
