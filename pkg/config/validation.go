package config

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittomedia/pkg/registry"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Backend ids are unique and never shadow the builtin fallback
	ids := make(map[string]bool)
	for i, b := range cfg.Storage.Backends {
		if b.ID == registry.BuiltinLocalID {
			return fmt.Errorf("storage.backends[%d]: id %q is reserved", i, b.ID)
		}
		if ids[b.ID] {
			return fmt.Errorf("storage.backends[%d]: duplicate backend id %q", i, b.ID)
		}
		ids[b.ID] = true

		if !slices.Contains(Drivers, b.Driver) {
			return fmt.Errorf("storage.backends[%d]: unknown driver %q (valid: %v)", i, b.Driver, Drivers)
		}
	}

	// At most one default per scope
	defaults := make(map[string]string)
	for i, b := range cfg.Storage.Backends {
		if !b.Default {
			continue
		}
		if other, ok := defaults[b.Tenant]; ok {
			scope := "system"
			if b.Tenant != "" {
				scope = fmt.Sprintf("tenant %q", b.Tenant)
			}
			return fmt.Errorf("storage.backends[%d]: %s already has default backend %q", i, scope, other)
		}
		defaults[b.Tenant] = b.ID
	}

	if cfg.Catalog.Type == "postgres" {
		if dsn, _ := cfg.Catalog.Postgres["dsn"].(string); dsn == "" {
			return fmt.Errorf("catalog.postgres: dsn is required when type is postgres")
		}
	}

	if cfg.GC.Scheduler == "asynq" && cfg.GC.Asynq.RedisAddr == "" {
		return fmt.Errorf("gc.asynq: redis_addr is required when scheduler is asynq")
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
