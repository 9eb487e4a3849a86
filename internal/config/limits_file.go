package config

import (
	"fmt"
	"os"
	"time"

	"github.com/benvon/render-gate/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// limitsFile is the YAML shape of LIMITS_FILE:
//
//	classes:
//	  render:
//	    max_requests: 10
//	    window_ms: 60000
type limitsFile struct {
	Classes map[string]classLimits `yaml:"classes"`
}

type classLimits struct {
	MaxRequests *int   `yaml:"max_requests"`
	WindowMS    *int64 `yaml:"window_ms"`
}

// applyLimitsFile overlays the classes in path onto p. Fields left out of the
// file keep their current value.
func applyLimitsFile(p ratelimit.Policy, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read limits file: %w", err)
	}
	return applyLimitsYAML(p, data)
}

func applyLimitsYAML(p ratelimit.Policy, data []byte) error {
	var f limitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse limits file: %w", err)
	}
	for name, override := range f.Classes {
		class, err := ratelimit.ParseClass(name)
		if err != nil {
			return fmt.Errorf("limits file: %w", err)
		}
		cfg := p[class]
		if override.MaxRequests != nil {
			cfg.MaxRequests = *override.MaxRequests
		}
		if override.WindowMS != nil {
			cfg.Window = time.Duration(*override.WindowMS) * time.Millisecond
		}
		p[class] = cfg
	}
	return nil
}
