package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/banshee-data/servoshow/internal/calibration"
	"github.com/banshee-data/servoshow/internal/console"
	"github.com/banshee-data/servoshow/internal/fsutil"
	"github.com/banshee-data/servoshow/internal/playback"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
	"github.com/banshee-data/servoshow/internal/transport"
)

// DefaultConfigPath is the reference rig defaults file. Commands load it from
// the working directory when no --config is given.
const DefaultConfigPath = "config/rig.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RigConfig describes one servo rig: how to reach its controller, how its
// servos are calibrated and how shows loop on it. Every field is optional;
// the Get* methods fill in the reference rig's values.
type RigConfig struct {
	// Serial link
	PortPath *string `json:"port_path,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`

	// Servos
	Channels           *int  `json:"channels,omitempty"`
	CalibrationOffsets []int `json:"calibration_offsets,omitempty"`

	// Playback
	LoopWindow   *int    `json:"loop_window,omitempty"`
	Once         *bool   `json:"once,omitempty"`
	RampPolicy   *string `json:"ramp_policy,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "20ms"

	// Console keys; an empty start_key means any key starts.
	StartKey *string `json:"start_key,omitempty"`
	QuitKey  *string `json:"quit_key,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyRigConfig returns a RigConfig with all fields unset.
func EmptyRigConfig() *RigConfig {
	return &RigConfig{}
}

// LoadRigConfig loads a RigConfig from a JSON file in fsys. The file must have
// a .json extension and be under 1MB. Omitted fields keep their defaults, so
// partial configs are safe.
func LoadRigConfig(fsys fsutil.FileSystem, path string) (*RigConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRigConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDefaultConfig loads DefaultConfigPath from fsys when it is present,
// relative to the working directory. A missing file yields an empty config so
// the built-in defaults apply; any other failure is returned.
func LoadDefaultConfig(fsys fsutil.FileSystem) (*RigConfig, error) {
	if _, err := fsys.Stat(DefaultConfigPath); errors.Is(err, fs.ErrNotExist) {
		return EmptyRigConfig(), nil
	}
	return LoadRigConfig(fsys, DefaultConfigPath)
}

// Validate checks that the configuration values are valid.
func (c *RigConfig) Validate() error {
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}

	channels := c.GetChannels()
	if channels < 1 || channels-1 > protocol.MaxChannel {
		return fmt.Errorf("channels must be between 1 and %d, got %d", protocol.MaxChannel+1, channels)
	}
	if c.CalibrationOffsets != nil && len(c.CalibrationOffsets) < channels {
		return fmt.Errorf("calibration_offsets has %d entries for %d channels", len(c.CalibrationOffsets), channels)
	}
	if len(c.CalibrationOffsets) > protocol.MaxChannel+1 {
		return fmt.Errorf("calibration_offsets has %d entries, controller has %d channels", len(c.CalibrationOffsets), protocol.MaxChannel+1)
	}

	if c.LoopWindow != nil && *c.LoopWindow < 0 {
		return fmt.Errorf("loop_window must be non-negative, got %d", *c.LoopWindow)
	}

	if c.RampPolicy != nil {
		if _, err := show.ParseRampPolicy(*c.RampPolicy); err != nil {
			return err
		}
	}

	if c.PollInterval != nil && *c.PollInterval != "" {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive, got %v", d)
		}
	}

	if c.StartKey != nil && len(*c.StartKey) > 1 {
		return fmt.Errorf("start_key must be a single character, got %q", *c.StartKey)
	}
	if c.QuitKey != nil && len(*c.QuitKey) != 1 {
		return fmt.Errorf("quit_key must be a single character, got %q", *c.QuitKey)
	}
	keys := c.GetKeyOptions()
	if keys.StartKey != 0 && keys.StartKey == keys.QuitKey {
		return fmt.Errorf("start_key and quit_key must differ, both are %q", string(keys.StartKey))
	}

	return nil
}

// GetPortPath returns the port_path value or the default.
func (c *RigConfig) GetPortPath() string {
	if c.PortPath == nil || *c.PortPath == "" {
		return transport.DefaultPortPath
	}
	return *c.PortPath
}

// PortOptions collects the serial settings. Unset fields stay zero and take
// their defaults in transport.PortOptions.Normalize.
func (c *RigConfig) PortOptions() transport.PortOptions {
	var opts transport.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetChannels returns the channels value or the default.
func (c *RigConfig) GetChannels() int {
	if c.Channels == nil {
		return show.DefaultChannels
	}
	return *c.Channels
}

// CalibrationTable builds the offset table, falling back to the reference
// rig's offsets.
func (c *RigConfig) CalibrationTable() *calibration.Table {
	if c.CalibrationOffsets == nil {
		return calibration.Default()
	}
	return calibration.New(c.CalibrationOffsets)
}

// GetLoopPolicy returns the loop_window and once values or their defaults:
// the whole show, repeating.
func (c *RigConfig) GetLoopPolicy() playback.LoopPolicy {
	var p playback.LoopPolicy
	if c.LoopWindow != nil {
		p.Window = *c.LoopWindow
	}
	if c.Once != nil {
		p.Once = *c.Once
	}
	return p
}

// GetRampPolicy returns the ramp_policy value or the default (truncate).
func (c *RigConfig) GetRampPolicy() show.RampPolicy {
	if c.RampPolicy == nil {
		return show.RampTruncate
	}
	p, err := show.ParseRampPolicy(*c.RampPolicy)
	if err != nil {
		return show.RampTruncate // default on parse error
	}
	return p
}

// GetPollInterval parses and returns the PollInterval as a time.Duration.
func (c *RigConfig) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return playback.DefaultPollInterval
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil || d <= 0 {
		return playback.DefaultPollInterval // default on parse error
	}
	return d
}

// GetKeyOptions returns the console key bindings.
func (c *RigConfig) GetKeyOptions() console.KeyOptions {
	opts := console.KeyOptions{QuitKey: 'q'}
	if c.StartKey != nil && len(*c.StartKey) == 1 {
		opts.StartKey = (*c.StartKey)[0]
	}
	if c.QuitKey != nil && len(*c.QuitKey) == 1 {
		opts.QuitKey = (*c.QuitKey)[0]
	}
	return opts
}
