package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cumulusfs/cumulus/pkg/storage"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom
// rules that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Storage.ChunkSize < storage.MinChunkSize {
		return fmt.Errorf("storage.chunk_size: %d is below the minimum %d",
			cfg.Storage.ChunkSize, storage.MinChunkSize)
	}

	// Backend names must be unique; every intent must be covered by at
	// least one backend or the store cannot place objects.
	names := make(map[string]bool)
	var covered storage.Intent
	for i := range cfg.Storage.Backends {
		b := &cfg.Storage.Backends[i]
		if names[b.Name] {
			return fmt.Errorf("storage.backends[%d]: duplicate backend name %q", i, b.Name)
		}
		names[b.Name] = true

		intents, err := b.intent()
		if err != nil {
			return fmt.Errorf("storage.backends[%d]: %w", i, err)
		}
		covered |= intents
	}
	for _, want := range []storage.Intent{storage.IntentTemporary, storage.IntentStorage} {
		if !covered.Has(want) {
			return fmt.Errorf("storage.backends: no backend carries the %q intent", want)
		}
	}

	// Bounded retention tiers must be ordered nearest-first, or tier
	// selection would skip intervals.
	last := int64(0)
	for i, iv := range cfg.Retention.Intervals {
		if iv.Seconds < 0 {
			if i != len(cfg.Retention.Intervals)-1 {
				return fmt.Errorf("retention.intervals[%d]: unbounded interval must be last", i)
			}
			continue
		}
		if iv.Seconds <= last {
			return fmt.Errorf("retention.intervals[%d]: interval ends must increase", i)
		}
		last = iv.Seconds
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
