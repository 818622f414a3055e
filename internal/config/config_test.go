package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("HYPERSPEC_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.Registration.MaxFeatures != 10000 {
		t.Fatalf("unexpected default max_features: %d", cfg.Registration.MaxFeatures)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"registration": {"max_features": 500, "scale_factor": 1.5}, "crop": {"serve_addr": ":9999"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HYPERSPEC_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registration.MaxFeatures != 500 {
		t.Fatalf("override not applied: %d", cfg.Registration.MaxFeatures)
	}
	if cfg.Crop.ServeAddr != ":9999" {
		t.Fatalf("crop serve addr not applied: %s", cfg.Crop.ServeAddr)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("untouched defaults should survive, got level %s", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Registration.MaxFeatures = 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_features < 4")
	}

	cfg = defaultConfig()
	cfg.Preview.LowPercentile = 99
	cfg.Preview.HiPercentile = 50
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for inverted percentiles")
	}
}
