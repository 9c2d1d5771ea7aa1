package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("Default() produced invalid config: %v", err)
	}
	if cfg.DefaultHsv != presets["red"] {
		t.Fatalf("Default() HSV = %+v, want red preset", cfg.DefaultHsv)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("PEN_COLOR", "blue")
	t.Setenv("STABILITY_WINDOW_SIZE", "45")
	t.Setenv("JITTER_THRESHOLD_LOW", "2.5")
	t.Setenv("JITTER_THRESHOLD_HIGH", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PenColor != "blue" {
		t.Errorf("PenColor = %q, want blue", cfg.PenColor)
	}
	if cfg.DefaultHsv != presets["blue"] {
		t.Errorf("DefaultHsv = %+v, want blue preset", cfg.DefaultHsv)
	}
	if cfg.StabilityWindowSize != 45 {
		t.Errorf("StabilityWindowSize = %d, want 45", cfg.StabilityWindowSize)
	}
	if cfg.JitterThresholdLow != 2.5 || cfg.JitterThresholdHigh != 20 {
		t.Errorf("jitter thresholds = (%v,%v), want (2.5,20)", cfg.JitterThresholdLow, cfg.JitterThresholdHigh)
	}
}

func TestLoadRejectsUnknownPenColor(t *testing.T) {
	t.Setenv("PEN_COLOR", "purple")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with unknown PEN_COLOR = nil error, want error")
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("JITTER_THRESHOLD_LOW", "30")
	t.Setenv("JITTER_THRESHOLD_HIGH", "5")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with low > high = nil error, want error")
	}
}

func TestHsvPreset(t *testing.T) {
	if _, ok := HsvPreset("green"); !ok {
		t.Fatal("HsvPreset(green) not found")
	}
	if _, ok := HsvPreset("purple"); ok {
		t.Fatal("HsvPreset(purple) unexpectedly found")
	}
}
