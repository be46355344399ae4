// CUE schema validation code
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var defaultSchema []byte

// DefaultSchema returns the built-in CUE schema.
func DefaultSchema() []byte { return defaultSchema }

// ValidateWithCue checks YAML bytes against the #Config definition of a CUE
// schema file, or the embedded schema when schemaPath is empty.
func ValidateWithCue(name string, yamlBytes []byte, schemaPath string) error {
	schemaBytes := defaultSchema
	if schemaPath != "" {
		b, err := os.ReadFile(schemaPath)
		if err != nil {
			return fmt.Errorf("cannot read CUE schema: %w", err)
		}
		schemaBytes = b
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileBytes(schemaBytes)
	if schemaVal.Err() != nil {
		return fmt.Errorf("schema compile failed: %w", schemaVal.Err())
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("schema has no #Config definition")
	}

	file, err := cueyaml.Extract(name, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if configVal.Err() != nil {
		return fmt.Errorf("cannot build YAML config: %w", configVal.Err())
	}

	final := def.Unify(configVal)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// FieldError is one problem with one configuration field.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Problem }

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, FieldError{Field: field, Problem: fmt.Sprintf(format, args...)})
}

// Validate checks cross-field rules the schema cannot express. It must run
// after Normalize and does not mutate cfg.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	n := cfg.Node
	if n.ID == "" {
		errs.add("node.id", "required")
	}
	if n.Segments < 1 {
		errs.add("node.segments", "must be at least 1, got %d", n.Segments)
	}
	if n.Position < 0 || n.Position >= n.Segments {
		errs.add("node.position", "must be in [0, %d), got %d", n.Segments, n.Position)
	}
	if !cfg.IsTail() && cfg.Link.Follower == "" {
		errs.add("link.follower", "required unless this node is the tail")
	}
	if !cfg.IsHead() && cfg.Link.Listen == "" {
		errs.add("link.listen", "required unless this node is the head")
	}
	if cfg.Link.Timeout <= 0 {
		errs.add("link.timeout", "must be positive")
	}

	if p := cfg.Router.Period; p < 40*time.Millisecond || p > 100*time.Millisecond {
		errs.add("router.period", "must be between 40ms and 100ms (10-25 Hz), got %s", p)
	}
	if p := cfg.Relay.Period; p < 10*time.Millisecond || p > 40*time.Millisecond {
		errs.add("relay.period", "must be between 10ms and 40ms (25-100 Hz), got %s", p)
	}

	if cfg.Driver.Address == "" {
		errs.add("driver.address", "required")
	}
	if cfg.Driver.Settings.MaxSpeed <= 0 {
		errs.add("driver.settings.max_speed", "must be positive")
	}

	if cfg.Integrity.MaxDelay > cfg.Integrity.MaxAge {
		errs.add("integrity.max_delay", "must not exceed integrity.max_age")
	}

	t := cfg.Relay.Thresholds
	if t.Healthy > t.Degraded {
		errs.add("relay.thresholds.healthy", "must not exceed degraded (%d > %d)", t.Healthy, t.Degraded)
	}
	if t.Degraded >= t.Reboot {
		errs.add("relay.thresholds.reboot", "must exceed degraded (%d <= %d)", t.Reboot, t.Degraded)
	}
	switch cfg.Relay.Kind {
	case "memory":
	case "modbus":
		if cfg.Relay.Modbus.Endpoint == "" {
			errs.add("relay.modbus.endpoint", "required when relay.kind is modbus")
		}
	default:
		errs.add("relay.kind", "unknown kind %q", cfg.Relay.Kind)
	}
	if cfg.Relay.Patience <= 0 {
		errs.add("relay.patience", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
