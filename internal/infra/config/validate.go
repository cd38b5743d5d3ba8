package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/atlas-fin/securecore/internal/pinning"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// cert_pin accepts only colon-separated SHA-256 fingerprints.
	_ = v.RegisterValidation("cert_pin", func(fl validator.FieldLevel) bool {
		return pinning.IsValidPinFormat(fl.Field().String())
	})
	return v
}

// Validate checks a loaded configuration against its struct rules.
func Validate(cfg *Config) error {
	validateOnce.Do(func() { validate = newValidator() })
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
