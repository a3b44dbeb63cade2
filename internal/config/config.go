package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/camroom/camroom/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Media    Media    `json:"media"`
	ICE      ICE      `json:"ice"`
	Storage  Storage  `json:"storage"`
	Gateway  Gateway  `json:"gateway"`
	Tiers    Tiers    `json:"tiers"`
}

type Identity struct {
	// Username is the claimed identity. It doubles as the name of the
	// user's own room. Capital A-Z only.
	Username string `json:"username"`
}

type Media struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	FrameRate  int `json:"frame_rate"`
	BitRateKbs int `json:"bit_rate_kbs"`
}

type ICE struct {
	// STUN/TURN URLs handed to every new peer connection.
	URLs []string `json:"urls"`

	// ICE timeouts in seconds. Disconnect default is generous (30s) so a
	// brief NAT hiccup does not immediately terminate a mesh link.
	DisconnectSec int `json:"disconnect_sec"`
	FailedSec     int `json:"failed_sec"`
	KeepaliveSec  int `json:"keepalive_sec"`
}

type Storage struct {
	// Dir is where the sqlite database lives. Relative to the config dir.
	Dir string `json:"dir"`

	// RecordDir, when non-empty, enables WebM recording of remote streams.
	RecordDir string `json:"record_dir"`
}

type Gateway struct {
	Bind string `json:"bind"`
}

type Tiers struct {
	// Video tile budget per subscription tier. The mesh connects to at most
	// (tiles - 1) remote peers; the local tile occupies one slot.
	FreeTiles int `json:"free_tiles"`
	PaidTiles int `json:"paid_tiles"`
}

// Default returns a config with every field at its default value.
func Default() *Config {
	return &Config{
		Media: Media{
			Width:      640,
			Height:     360,
			FrameRate:  30,
			BitRateKbs: 1500,
		},
		ICE: ICE{
			URLs:          []string{"stun:stun.l.google.com:19302"},
			DisconnectSec: 30,
			FailedSec:     120,
			KeepaliveSec:  2,
		},
		Storage: Storage{Dir: "data"},
		Gateway: Gateway{Bind: "127.0.0.1:8432"},
		Tiers:   Tiers{FreeTiles: 12, PaidTiles: 20},
	}
}

// Load reads the config file at path, filling in defaults for missing
// fields. A missing file returns defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := util.ReadJSONFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories if needed.
func (c *Config) Save(path string) error {
	return util.WriteJSONFile(path, c)
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Media.Width <= 0 {
		c.Media.Width = def.Media.Width
	}
	if c.Media.Height <= 0 {
		c.Media.Height = def.Media.Height
	}
	if c.Media.FrameRate <= 0 {
		c.Media.FrameRate = def.Media.FrameRate
	}
	if c.Media.BitRateKbs <= 0 {
		c.Media.BitRateKbs = def.Media.BitRateKbs
	}
	if len(c.ICE.URLs) == 0 {
		c.ICE.URLs = def.ICE.URLs
	}
	if c.ICE.DisconnectSec <= 0 {
		c.ICE.DisconnectSec = def.ICE.DisconnectSec
	}
	if c.ICE.FailedSec <= 0 {
		c.ICE.FailedSec = def.ICE.FailedSec
	}
	if c.ICE.KeepaliveSec <= 0 {
		c.ICE.KeepaliveSec = def.ICE.KeepaliveSec
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = def.Storage.Dir
	}
	if c.Gateway.Bind == "" {
		c.Gateway.Bind = def.Gateway.Bind
	}
	if c.Tiers.FreeTiles <= 0 {
		c.Tiers.FreeTiles = def.Tiers.FreeTiles
	}
	if c.Tiers.PaidTiles <= 0 {
		c.Tiers.PaidTiles = def.Tiers.PaidTiles
	}
}

// Validate checks the config for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Identity.Username != "" {
		if err := util.ValidateUsername(c.Identity.Username); err != nil {
			return fmt.Errorf("identity.username: %w", err)
		}
	}
	for _, u := range c.ICE.URLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			return fmt.Errorf("ice.urls: %q is not a stun:/turn: URL", u)
		}
	}
	if c.Tiers.PaidTiles < c.Tiers.FreeTiles {
		return errors.New("tiers: paid_tiles must be >= free_tiles")
	}
	if _, _, ok := strings.Cut(c.Gateway.Bind, ":"); !ok {
		return fmt.Errorf("gateway.bind: %q is not host:port", c.Gateway.Bind)
	}
	return nil
}

// TileBudget returns the video tile budget for a subscription tier.
func (c *Config) TileBudget(tier string) int {
	if tier == "free" || tier == "" {
		return c.Tiers.FreeTiles
	}
	return c.Tiers.PaidTiles
}

// ResolveStorageDir resolves the storage dir relative to the config file.
func (c *Config) ResolveStorageDir(configPath string) string {
	return util.ResolvePath(filepath.Dir(configPath), c.Storage.Dir)
}
