package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/ttableserver/pkg/loader"
)

// ErrInvalidConfig wraps every validation failure so that callers can tell
// configuration problems apart from runtime failures.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags and then the cross-field rules that tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, formatValidationError(err))
	}

	if err := validateCustomRules(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func validateCustomRules(cfg *Config) error {
	if _, err := loader.ParseProvenances(cfg.Model.Provenances); err != nil {
		return fmt.Errorf("model.provenances: %w", err)
	}

	if strings.Contains(cfg.Model.Template, loader.DirectionPlaceholder) && cfg.Model.LanguagePair == "" {
		return fmt.Errorf("model.language_pair: required when the template contains %s", loader.DirectionPlaceholder)
	}

	if cfg.Server.S2TPort == cfg.Server.T2SPort {
		return fmt.Errorf("server: s2t_port and t2s_port must differ (both %d)", cfg.Server.S2TPort)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.PortFor(cfg.Server.Direction) {
		return fmt.Errorf("metrics.port %d collides with the lookup port", cfg.Metrics.Port)
	}

	if loader.Scheme(cfg.Model.Template) == "s3" {
		s3cfg, err := decodeS3Config(cfg.S3)
		if err != nil {
			return err
		}
		if s3cfg.Region == "" {
			return fmt.Errorf("s3.region: required when the template is an s3:// URL")
		}
		if _, _, err := loader.ParseS3URL(loader.ResolvePath(cfg.Model.Template, loader.AllGenre, cfg.Model.LanguagePair)); err != nil {
			return fmt.Errorf("model.template: %w", err)
		}
	}

	return nil
}

// formatValidationError converts validator errors into a readable message.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
