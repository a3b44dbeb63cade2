package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "camroom.json"))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Media.Width)
	assert.Equal(t, 360, cfg.Media.Height)
	assert.Equal(t, 12, cfg.Tiers.FreeTiles)
	assert.Equal(t, 20, cfg.Tiers.PaidTiles)
	assert.NotEmpty(t, cfg.ICE.URLs)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camroom.json")

	cfg := Default()
	cfg.Identity.Username = "ALICE"
	cfg.Media.BitRateKbs = 900
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ALICE", loaded.Identity.Username)
	assert.Equal(t, 900, loaded.Media.BitRateKbs)
	// Unset fields fall back to defaults.
	assert.Equal(t, 30, loaded.Media.FrameRate)
}

func TestValidate(t *testing.T) {
	t.Run("bad username", func(t *testing.T) {
		cfg := Default()
		cfg.Identity.Username = "alice"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad ice url", func(t *testing.T) {
		cfg := Default()
		cfg.ICE.URLs = []string{"http://not-a-stun-server"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("paid tiles below free", func(t *testing.T) {
		cfg := Default()
		cfg.Tiers.PaidTiles = cfg.Tiers.FreeTiles - 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad bind", func(t *testing.T) {
		cfg := Default()
		cfg.Gateway.Bind = "localhost"
		assert.Error(t, cfg.Validate())
	})
}

func TestTileBudget(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 12, cfg.TileBudget("free"))
	assert.Equal(t, 12, cfg.TileBudget(""))
	assert.Equal(t, 20, cfg.TileBudget("pro"))
	assert.Equal(t, 20, cfg.TileBudget("gold"))
	assert.Equal(t, 20, cfg.TileBudget("extreme"))
}
