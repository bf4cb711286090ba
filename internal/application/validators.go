package application

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterConfigValidators registers the custom tags used by AppConfig.
// It returns an error if any registration fails.
func RegisterConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelspec", validateModelSpec); err != nil {
		return fmt.Errorf("failed to register modelspec validator: %w", err)
	}
	return nil
}

// validateModelSpec accepts "provider/model" where the provider is a lower
// case identifier and the model is non-empty. The model may contain further
// slashes for gateways such as "openrouter/google/gemini-pro-vision".
func validateModelSpec(fl validator.FieldLevel) bool {
	provider, model := splitSpec(fl.Field().String())
	if provider == "" || model == "" {
		return false
	}
	for _, ch := range provider {
		if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') && ch != '-' && ch != '_' {
			return false
		}
	}
	return strings.TrimSpace(model) == model
}

// splitSpec splits at the first slash only.
func splitSpec(spec string) (provider, model string) {
	provider, model, _ = strings.Cut(spec, "/")
	return provider, model
}
