// Package config reads config.yaml.
package config

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/greendrake/ntrview/ntr"
	"github.com/greendrake/ntrview/render"
	"gopkg.in/yaml.v3"
)

type Screen struct {
	Name    string `yaml:"Name"`
	Primary bool   `yaml:"Primary"` // The top screen
	Width   int    `yaml:"Width"`   // Surface size, before the orientation is applied
	Height  int    `yaml:"Height"`
	// Overrides Config.Orientation for this screen
	Orientation string `yaml:"Orientation"`
}

type RemotePlay struct {
	Enabled                bool   `yaml:"Enabled"`
	Address                string `yaml:"Address"` // The handheld, port 8000 assumed if omitted
	ntr.RemotePlaySettings `yaml:",inline"`
}

// HzMod is the TCP alternative to NTR remote play. Its frames go to the primary screen.
type HzMod struct {
	Enabled  bool   `yaml:"Enabled"`
	Address  string `yaml:"Address"` // The handheld, port 6464 assumed if omitted
	Quality  int    `yaml:"Quality"`
	CPULimit int    `yaml:"CPULimit"` // 0 for no cap
}

type Config struct {
	Listen         string        `yaml:"Listen"`  // HTTP bridge and webcast
	Ingest         string        `yaml:"Ingest"`  // UDP address for remote-play datagrams, empty to disable
	Workers        int           `yaml:"Workers"` // Decode workers, 0 for one per CPU
	RenderInterval time.Duration `yaml:"RenderInterval"`
	StopTimeout    time.Duration `yaml:"StopTimeout"`
	Orientation    string        `yaml:"Orientation"`
	ClearColor     string        `yaml:"ClearColor"` // #RRGGBB
	CastFPS        uint8         `yaml:"CastFPS"`
	CastQuality    int           `yaml:"CastQuality"`
	Screens        []Screen      `yaml:"Screens"`
	RemotePlay     RemotePlay    `yaml:"RemotePlay"`
	HzMod          HzMod         `yaml:"HzMod"`
}

func Default() *Config {
	return &Config{
		Listen:         ":8080",
		Ingest:         ":8001",
		RenderInterval: render.DefaultInterval,
		StopTimeout:    render.DefaultStopTimeout,
		Orientation:    "rotate270",
		ClearColor:     "#000000",
		CastFPS:        30,
		CastQuality:    75,
		Screens: []Screen{
			{Name: "top", Primary: true, Width: 240, Height: 400},
			{Name: "bottom", Width: 240, Height: 320},
		},
		RemotePlay: RemotePlay{RemotePlaySettings: ntr.DefaultRemotePlay},
		HzMod:      HzMod{Quality: 80},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to open config file %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("Failed to parse YAML config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if len(c.Screens) == 0 {
		return fmt.Errorf("No screens configured")
	}
	names := make(map[string]bool)
	primaries := 0
	for _, s := range c.Screens {
		if s.Name == "" {
			return fmt.Errorf("Screen without a name")
		}
		if names[s.Name] {
			return fmt.Errorf("Duplicate screen name: %s", s.Name)
		}
		names[s.Name] = true
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("Screen %s has no size", s.Name)
		}
		if s.Primary {
			primaries++
		}
		if _, err := render.OrientationByName(s.Orientation); err != nil {
			return err
		}
	}
	if primaries != 1 {
		return fmt.Errorf("Exactly one screen must be primary, got %d", primaries)
	}
	if len(c.Screens) > 2 {
		return fmt.Errorf("At most 2 screens, got %d", len(c.Screens))
	}
	if _, err := render.OrientationByName(c.Orientation); err != nil {
		return err
	}
	if _, err := ParseColor(c.ClearColor); err != nil {
		return err
	}
	if c.RenderInterval <= 0 || c.StopTimeout <= 0 {
		return fmt.Errorf("RenderInterval and StopTimeout must be positive")
	}
	if c.CastQuality < 1 || c.CastQuality > 100 {
		return fmt.Errorf("CastQuality out of range: %d", c.CastQuality)
	}
	if c.RemotePlay.Enabled && c.RemotePlay.Address == "" {
		return fmt.Errorf("RemotePlay is enabled but has no Address")
	}
	if c.HzMod.Enabled && c.HzMod.Address == "" {
		return fmt.Errorf("HzMod is enabled but has no Address")
	}
	if c.HzMod.Quality < 1 || c.HzMod.Quality > 100 || c.HzMod.CPULimit < 0 || c.HzMod.CPULimit > 255 {
		return fmt.Errorf("HzMod Quality must be 1 to 100 and CPULimit 0 to 255")
	}
	return nil
}

// ScreenOrientation resolves the orientation of s, falling back to the global one.
func (c *Config) ScreenOrientation(s Screen) render.Orientation {
	name := s.Orientation
	if name == "" {
		name = c.Orientation
	}
	o, _ := render.OrientationByName(name) // validated
	return o
}

// ParseColor reads #RRGGBB.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("Bad color %q, want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("Bad color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
