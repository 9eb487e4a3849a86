package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/benvon/render-gate/internal/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/ulule/limiter/v3"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("limit_class", validateLimitClass); err != nil {
		panic(fmt.Sprintf("failed to register limit_class validator: %v", err))
	}
	if err := Validate.RegisterValidation("edge_rate", validateEdgeRate); err != nil {
		panic(fmt.Sprintf("failed to register edge_rate validator: %v", err))
	}
}

// validateLimitClass accepts known limit class names, or Class values.
func validateLimitClass(fl validator.FieldLevel) bool {
	_, err := ratelimit.ParseClass(fl.Field().String())
	return err == nil
}

// validateEdgeRate accepts rates in the "<count>-<period>" form, e.g. "20-S".
func validateEdgeRate(fl validator.FieldLevel) bool {
	return ValidateEdgeRate(fl.Field().String()) == nil
}

// ValidateEdgeRate checks an edge limiter rate string such as "5-S" or "1000-H".
func ValidateEdgeRate(value string) error {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid rate %q (expected e.g. '20-S', '100-M'): %w", value, err)
	}
	if rate.Limit <= 0 {
		return fmt.Errorf("invalid rate %q: limit must be positive", value)
	}
	return nil
}

// classLimit pairs a policy entry with its class name so both are checked by tags.
type classLimit struct {
	Class string `validate:"required,limit_class"`
	Limit ratelimit.LimitConfig
}

// ValidatePolicy requires every known limit class and rejects unknown classes
// or non-positive ceilings and windows. It is the only policy check the
// service runs.
func ValidatePolicy(p ratelimit.Policy) error {
	for _, class := range ratelimit.Classes {
		if _, ok := p[class]; !ok {
			return fmt.Errorf("limit class %q is not configured", class)
		}
	}
	classes := make([]string, 0, len(p))
	for class := range p {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	for _, name := range classes {
		entry := classLimit{Class: name, Limit: p[ratelimit.Class(name)]}
		if err := Validate.Struct(entry); err != nil {
			return fmt.Errorf("limit class %q: %w", name, err)
		}
	}
	return nil
}

// SanitizeText trims whitespace and removes control characters except newline and tab.
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}
