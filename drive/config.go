package drive

import (
	"fmt"
	"regexp"
	"time"
)

// ConfigError reports a malformed drive configuration. Construction is
// strict: a bad axis aborts the whole drive rather than producing a
// partially-initialized assembly.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid drive config: %s: %s", e.Field, e.Reason)
}

// AxisConfig describes one axis of a drive. Immutable after the Axis is
// built.
type AxisConfig struct {
	// IP of the axis motor controller; unique within a drive.
	IP string `yaml:"ip"`
	// Name of the axis; defaults to ax{index}.
	Name string `yaml:"name"`
	// Units names the physical unit of axis motion (e.g. "cm").
	Units string `yaml:"units"`
	// UnitsPerRev is the axis travel per motor revolution, in Units
	// (e.g. the thread pitch of the rod).
	UnitsPerRev float64 `yaml:"units_per_rev"`
	// HeartrateBase and HeartrateActive optionally override the status
	// polling intervals, as duration strings ("2s", "200ms").
	HeartrateBase   string `yaml:"heartrate_base,omitempty"`
	HeartrateActive string `yaml:"heartrate_active,omitempty"`
}

// Config describes a whole drive assembly.
type Config struct {
	Name string       `yaml:"name"`
	Axes []AxisConfig `yaml:"axes"`
}

var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// Validate normalizes and checks the configuration: required axis fields,
// default ax{i} names, and uniqueness of IPs and names. Two logical axes
// can never share one physical controller in this protocol.
func (cfg *Config) Validate() error {
	if len(cfg.Axes) == 0 {
		return &ConfigError{Field: "axes", Reason: "at least one axis is required"}
	}

	ips := make(map[string]bool, len(cfg.Axes))
	names := make(map[string]bool, len(cfg.Axes))
	for i := range cfg.Axes {
		ax := &cfg.Axes[i]
		field := fmt.Sprintf("axes[%d]", i)

		if !ipv4Pattern.MatchString(ax.IP) {
			return &ConfigError{Field: field + ".ip", Reason: fmt.Sprintf("%q is not a valid IPv4 address", ax.IP)}
		}
		if ax.Units == "" {
			return &ConfigError{Field: field + ".units", Reason: "required"}
		}
		if ax.UnitsPerRev <= 0 {
			return &ConfigError{Field: field + ".units_per_rev", Reason: "must be positive"}
		}
		if ax.Name == "" {
			ax.Name = fmt.Sprintf("ax%d", i)
		}
		if ax.HeartrateBase != "" {
			if _, err := time.ParseDuration(ax.HeartrateBase); err != nil {
				return &ConfigError{Field: field + ".heartrate_base", Reason: err.Error()}
			}
		}
		if ax.HeartrateActive != "" {
			if _, err := time.ParseDuration(ax.HeartrateActive); err != nil {
				return &ConfigError{Field: field + ".heartrate_active", Reason: err.Error()}
			}
		}

		if ips[ax.IP] {
			return &ConfigError{Field: field + ".ip", Reason: fmt.Sprintf("all axes must have unique IPs, duplicate %q found", ax.IP)}
		}
		if names[ax.Name] {
			return &ConfigError{Field: field + ".name", Reason: fmt.Sprintf("all axes must have unique names, duplicate %q found", ax.Name)}
		}
		ips[ax.IP] = true
		names[ax.Name] = true
	}
	return nil
}
