package config

import (
	"fmt"
	"strings"

	"github.com/harun/collabedit/pkg/identity"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateColorMode validates the palette assignment mode
func (v *Validator) ValidateColorMode(mode string) error {
	_, err := identity.ParseColorMode(mode)
	return err
}

// ValidateSharedSecret rejects secrets too short to sign challenges with
func (v *Validator) ValidateSharedSecret(secret string) error {
	if secret == "" {
		return nil // Auth disabled
	}
	if len(secret) < 8 {
		return fmt.Errorf("gateway shared secret too short (min 8 characters)")
	}
	return nil
}

// ValidateRateLimits validates the per-client request limits
func (v *Validator) ValidateRateLimits(requestsPerMinute, maxConcurrent int) error {
	if requestsPerMinute < 0 {
		return fmt.Errorf("gateway.requests_per_minute must be >= 0, got %d", requestsPerMinute)
	}
	if maxConcurrent < 0 {
		return fmt.Errorf("gateway.max_concurrent must be >= 0, got %d", maxConcurrent)
	}
	return nil
}

// ValidateDemoNames checks the synthetic participant names the same way the
// identity prompt checks a human's
func (v *Validator) ValidateDemoNames(names []string) error {
	seen := make([]string, 0, len(names))
	for i, candidate := range names {
		name, err := identity.ValidateName(candidate, seen)
		if err != nil {
			return fmt.Errorf("demo name %d (%q): %w", i, candidate, err)
		}
		seen = append(seen, name)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateColorMode(cfg.Editor.ColorMode); err != nil {
		errors = append(errors, fmt.Errorf("editor: %w", err))
	}
	if cfg.Editor.ActivityCapacity < 0 {
		errors = append(errors, fmt.Errorf("editor.activity_capacity must be >= 0"))
	}

	if err := v.ValidateSharedSecret(cfg.Gateway.SharedSecret); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateRateLimits(cfg.Gateway.RequestsPerMinute, cfg.Gateway.MaxConcurrent); err != nil {
		errors = append(errors, err)
	}
	if cfg.Gateway.TickSeconds < 0 {
		errors = append(errors, fmt.Errorf("gateway.tick_seconds must be >= 0"))
	}

	if cfg.Demo.Enabled {
		if err := v.ValidateDemoNames(cfg.Demo.Names); err != nil {
			errors = append(errors, err)
		}
		if cfg.Demo.MaxJitter < 0 {
			errors = append(errors, fmt.Errorf("demo.max_jitter must be >= 0"))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
