package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/calvinalkan/handleprobe/internal/fs"
	"github.com/calvinalkan/handleprobe/internal/probe"
)

// validate is the singleton validator instance.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json key names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	// filename: a single path element, so files stay inside data_dir.
	_ = v.RegisterValidation("filename", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()

		return name != "." && name != ".." && !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
	})

	return v
}

// Validate checks cfg with struct tags and the rules that can't be
// expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules resolves every name against the registries so that
// a typo fails at load time instead of halfway through a run.
func validateCustomRules(cfg *Config) error {
	var errs []error

	for i, name := range cfg.Conflicts.AccessModes {
		if _, err := fs.ParseAccess(name); err != nil {
			errs = append(errs, fmt.Errorf("conflicts.access_modes[%d]: %w", i, err))
		}
	}

	for i, name := range cfg.Conflicts.ShareModes {
		if _, err := fs.ParseShare(name); err != nil {
			errs = append(errs, fmt.Errorf("conflicts.share_modes[%d]: %w", i, err))
		}
	}

	for i, name := range cfg.Rename.Strategies {
		if _, err := probe.ParseRenameStrategy(name); err != nil {
			errs = append(errs, fmt.Errorf("rename.strategies[%d]: %w", i, err))
		}
	}

	for i, name := range cfg.Delete.Strategies {
		if _, err := probe.ParseDeleteStrategy(name); err != nil {
			errs = append(errs, fmt.Errorf("delete.strategies[%d]: %w", i, err))
		}
	}

	if cfg.Visibility.Interval < 0 {
		errs = append(errs, fmt.Errorf("visibility.interval: must not be negative, got %s", cfg.Visibility.Interval.String()))
	}

	return errors.Join(errs...)
}

// formatValidationError converts validator errors into messages naming the
// config key.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]

	// Namespace is "Config.conflicts.file"; drop the root type.
	_, key, _ := strings.Cut(e.Namespace(), ".")

	return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", key, e.Tag(), e.Value())
}
