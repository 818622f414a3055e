package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/hyperspec/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the tool.
type Config struct {
	Processing   Processing         `json:"processing"`
	Logging      Logging            `json:"logging"`
	Paths        Paths              `json:"paths"`
	Registration RegistrationConfig `json:"registration"`
	Preview      PreviewConfig      `json:"preview"`
	Crop         CropConfig         `json:"crop"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// RegistrationConfig controls the feature matching and homography search.
type RegistrationConfig struct {
	MaxFeatures         int     `json:"max_features"`
	ScaleFactor         float64 `json:"scale_factor"`
	RansacReprojThresh  float64 `json:"ransac_reproj_threshold"`
	AreaTolerance       float64 `json:"area_tolerance"`
	MaxPerspectiveShift float64 `json:"max_perspective_shift"`
	Smooth              float64 `json:"smooth"`
}

// PreviewConfig controls how cube previews are rendered.
type PreviewConfig struct {
	MaxSize       int     `json:"max_size"`       // longest edge served to the crop UI
	LowPercentile float64 `json:"low_percentile"` // contrast stretch window
	HiPercentile  float64 `json:"hi_percentile"`
}

// CropConfig controls the interactive cropping session.
type CropConfig struct {
	ServeAddr string `json:"serve_addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("HYPERSPEC_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	return cfg, nil
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if c.Registration.MaxFeatures < 4 {
		return fmt.Errorf("registration.max_features must be >= 4, got %d", c.Registration.MaxFeatures)
	}
	if c.Registration.ScaleFactor <= 1.0 {
		return fmt.Errorf("registration.scale_factor must be > 1.0, got %g", c.Registration.ScaleFactor)
	}
	if c.Preview.LowPercentile < 0 || c.Preview.HiPercentile > 100 || c.Preview.LowPercentile >= c.Preview.HiPercentile {
		return errors.New("preview percentiles must satisfy 0 <= low < hi <= 100")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "hyperspec.db"),
		},
		Registration: RegistrationConfig{
			MaxFeatures:         10000,
			ScaleFactor:         1.2,
			RansacReprojThresh:  5.0,
			AreaTolerance:       0.1,
			MaxPerspectiveShift: 0.001,
		},
		Preview: PreviewConfig{
			MaxSize:       700,
			LowPercentile: 2.0,
			HiPercentile:  98.0,
		},
		Crop: CropConfig{
			ServeAddr: ":8080",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
