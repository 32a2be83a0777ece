package weave

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gamevidea/weave/internal/protocol"
)

func TestDefaultConfig(t *testing.T) {
	requireT := require.New(t)

	cfg := DefaultConfig()
	requireT.Equal(protocol.DefaultMaxFramePayload, cfg.MaxFramePayload)
	requireT.Positive(cfg.SendQueueSize)
	requireT.Positive(cfg.ReceiveQueueSize)
	requireT.Positive(cfg.ViolationLimit)
	requireT.False(cfg.StrictPatch)
	requireT.False(cfg.AllowRaw)
	requireT.NotNil(cfg.Logger)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "weave.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigOverrides(t *testing.T) {
	requireT := require.New(t)

	path := writeConfigFile(t, `
max_frame_payload = 512
violation_limit = 3
strict_patch = true
allow_raw = true
`)

	cfg, err := LoadConfig(path)
	requireT.NoError(err)
	requireT.Equal(512, cfg.MaxFramePayload)
	requireT.Equal(3, cfg.ViolationLimit)
	requireT.True(cfg.StrictPatch)
	requireT.True(cfg.AllowRaw)

	// Keys absent from the file keep their defaults.
	requireT.Equal(DefaultConfig().SendQueueSize, cfg.SendQueueSize)
}

func TestLoadConfigRejectsBadFramePayload(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, "max_frame_payload = 0\n"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, "max_frame_payload = 100000\n"))
	require.Error(t, err)
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	requireT := require.New(t)

	cfg := Config{}.withDefaults()
	requireT.Equal(DefaultConfig().MaxFramePayload, cfg.MaxFramePayload)
	requireT.NotNil(cfg.Logger)

	cfg = Config{MaxFramePayload: 64}.withDefaults()
	requireT.Equal(64, cfg.MaxFramePayload)
}
