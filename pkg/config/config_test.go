package config

import (
	"errors"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero root error bound", func(c *Config) { c.RootErrorBound = 0 }},
		{"negative root memory constraint", func(c *Config) { c.RootMemoryConstraint = -1 }},
		{"zero group error bound", func(c *Config) { c.GroupErrorBound = 0 }},
		{"zero group error tolerance", func(c *Config) { c.GroupErrorTolerance = 0 }},
		{"zero group size bound", func(c *Config) { c.GroupSizeBound = 0 }},
		{"zero merge size threshold", func(c *Config) { c.MergeSizeThreshold = 0 }},
		{"zero buffer size bound", func(c *Config) { c.BufferSizeBound = 0 }},
		{"zero buffer size tolerance", func(c *Config) { c.BufferSizeTolerance = 0 }},
		{"zero buffer compact threshold", func(c *Config) { c.BufferCompactThreshold = 0 }},
		{"zero worker count", func(c *Config) { c.WorkerCount = 0 }},
		{"negative background threads", func(c *Config) { c.BackgroundThreads = -1 }},
		{"negative max put retries", func(c *Config) { c.MaxPutRetries = -1 }},
		{"zero maintenance interval", func(c *Config) { c.MaintenanceInterval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestBackgroundThreadsZeroAllowed(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.BackgroundThreads = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero background threads disables maintenance and should validate, got %v", err)
	}
}
