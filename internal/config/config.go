// Package config loads host and viewer settings from flags, an optional
// YAML file and the environment. Flags win over the environment, which wins
// over the file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/junsooki/deskcast/internal/capture"
	"gopkg.in/yaml.v3"
)

const (
	EnvSignalingURL = "DESKCAST_SIGNALING_URL"
	EnvHostID       = "DESKCAST_HOST_ID"

	defaultSignalingURL = "ws://localhost:8080"
)

var ErrInvalid = errors.New("config: invalid value")

// Config holds the host's runtime configuration.
type Config struct {
	SignalingURL string `yaml:"signaling_url"`
	HostID       string `yaml:"host_id"`

	// Mode is "screen" or "window".
	Mode string `yaml:"mode"`
	// SourceIndex picks a source by its position in the enumeration.
	SourceIndex int `yaml:"source_index"`
	// SourceTitle, if set, picks the first source whose title contains it.
	SourceTitle string `yaml:"source_title"`

	// Width and Height fix the stream resolution; zero means the size of the
	// first captured frame.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	FPS     int `yaml:"fps"`
	Quality int `yaml:"quality"`

	// Exclude lists application (process) ids hidden from capture.
	Exclude     []uint64 `yaml:"exclude"`
	ExcludeSelf bool     `yaml:"exclude_self"`
}

// ViewerConfig holds configuration for the viewer binary.
type ViewerConfig struct {
	SignalingURL string `yaml:"signaling_url"`
	ViewerID     string `yaml:"viewer_id"`
	HostID       string `yaml:"host_id"`
}

func Default() *Config {
	return &Config{
		SignalingURL: defaultSignalingURL,
		Mode:         "screen",
		FPS:          30,
		Quality:      70,
		ExcludeSelf:  true,
	}
}

// ParseHost parses host flags from args.
func ParseHost(args []string) (*Config, error) {
	cfg := Default()
	var path string

	fs := flag.NewFlagSet("deskcast-host", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "YAML config file")
	fs.StringVar(&cfg.SignalingURL, "signaling", cfg.SignalingURL, "Signaling server WebSocket URL")
	fs.StringVar(&cfg.HostID, "id", cfg.HostID, "Host ID (auto-generated if empty)")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Capture mode: screen or window")
	fs.IntVar(&cfg.SourceIndex, "source", cfg.SourceIndex, "Index of the source to capture")
	fs.StringVar(&cfg.SourceTitle, "title", cfg.SourceTitle, "Capture the first source whose title contains this")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Stream width (0 = source size)")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Stream height (0 = source size)")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "Target frames per second")
	fs.IntVar(&cfg.Quality, "quality", cfg.Quality, "JPEG quality (1-100)")
	fs.Var((*idList)(&cfg.Exclude), "exclude", "Comma-separated process ids to hide from capture")
	fs.BoolVar(&cfg.ExcludeSelf, "exclude-self", cfg.ExcludeSelf, "Hide this process's own windows")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv(EnvSignalingURL); v != "" {
		cfg.SignalingURL = v
	}
	if v := os.Getenv(EnvHostID); v != "" {
		cfg.HostID = v
	}
	// Parse again so explicit flags override the file and the environment.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.HostID == "" {
		cfg.HostID = "host-" + shortID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseViewer parses viewer flags from args.
func ParseViewer(args []string) (*ViewerConfig, error) {
	cfg := &ViewerConfig{SignalingURL: defaultSignalingURL}
	fs := flag.NewFlagSet("deskcast-viewer", flag.ContinueOnError)
	fs.StringVar(&cfg.SignalingURL, "signaling", cfg.SignalingURL, "Signaling server WebSocket URL")
	fs.StringVar(&cfg.ViewerID, "id", "", "Viewer ID (auto-generated if empty)")
	fs.StringVar(&cfg.HostID, "host", "", "Host ID to connect to (required)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvSignalingURL); v != "" && !isSet(fs, "signaling") {
		cfg.SignalingURL = v
	}

	if cfg.ViewerID == "" {
		cfg.ViewerID = "viewer-" + shortID()
	}
	if cfg.HostID == "" {
		return nil, fmt.Errorf("%w: -host is required", ErrInvalid)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := c.CaptureMode(); err != nil {
		return err
	}
	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("%w: fps must be 1-60, got %d", ErrInvalid, c.FPS)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("%w: quality must be 1-100, got %d", ErrInvalid, c.Quality)
	}
	if c.Width < 0 || c.Height < 0 || (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("%w: width and height must both be positive or both zero", ErrInvalid)
	}
	if c.SourceIndex < 0 {
		return fmt.Errorf("%w: negative source index", ErrInvalid)
	}
	return nil
}

func (c *Config) CaptureMode() (capture.Mode, error) {
	switch c.Mode {
	case "screen":
		return capture.ModeScreen, nil
	case "window":
		return capture.ModeWindow, nil
	default:
		return 0, fmt.Errorf("%w: mode %q", ErrInvalid, c.Mode)
	}
}

// ExcludedApplications returns Exclude plus this process when ExcludeSelf
// is set.
func (c *Config) ExcludedApplications() []uint64 {
	ids := append([]uint64(nil), c.Exclude...)
	if c.ExcludeSelf {
		ids = append(ids, uint64(os.Getpid()))
	}
	return ids
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func shortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// idList is a flag.Value for comma-separated ids.
type idList []uint64

func (l *idList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(s string) error {
	var ids []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return fmt.Errorf("bad id %q", part)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}
