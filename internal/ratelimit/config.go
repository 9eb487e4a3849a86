package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Class names a category of rate-limited operation. Each class has its own
// counter namespace and LimitConfig.
type Class string

const (
	ClassAuth     Class = "auth"
	ClassCheckout Class = "checkout"
	ClassRender   Class = "render"
	ClassAPI      Class = "api"
)

// Classes lists the limit classes known to the service, in a stable order.
var Classes = []Class{ClassAuth, ClassCheckout, ClassRender, ClassAPI}

// LimitConfig is the ceiling for one limit class. Values are immutable once loaded.
type LimitConfig struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests" validate:"gt=0"`
	Window      time.Duration `json:"window" yaml:"-" validate:"gt=0"`
}

// Policy maps every limit class to its configuration.
type Policy map[Class]LimitConfig

// DefaultPolicy returns the built-in limits used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		ClassAuth:     {MaxRequests: 5, Window: 15 * time.Minute},
		ClassCheckout: {MaxRequests: 10, Window: time.Hour},
		ClassRender:   {MaxRequests: 10, Window: time.Minute},
		ClassAPI:      {MaxRequests: 100, Window: time.Minute},
	}
}

// Lookup returns the config for class.
func (p Policy) Lookup(class Class) (LimitConfig, bool) {
	cfg, ok := p[class]
	return cfg, ok
}

// Key scopes a caller id by limit class so that classes never share a counter.
func Key(class Class, callerID string) string {
	return string(class) + ":" + callerID
}

// ParseClass converts a config string to a known Class.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Classes {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown limit class %q", s)
}
