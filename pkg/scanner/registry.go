package scanner

import (
	"context"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// EngineVersion is the scanner host contract version. Scanner specs
// declare the range they support; incompatible scanners are rejected
// at startup rather than failing per request.
const EngineVersion = "1.2.0"

// Spec declares one scanner in configuration.
type Spec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // pattern | http | wasm

	// Engine is a semver constraint on EngineVersion, e.g. ">=1.0 <2".
	// Empty accepts any version.
	Engine string `yaml:"engine,omitempty"`

	// Patterns configures a pattern scanner: trait -> regexp.
	Patterns map[string]string `yaml:"patterns,omitempty"`

	// Endpoint configures an http scanner.
	Endpoint string `yaml:"endpoint,omitempty"`

	// ModulePath configures a wasm scanner: path to the compiled module.
	ModulePath string `yaml:"modulePath,omitempty"`

	// MemoryLimitBytes bounds a wasm scanner's linear memory.
	MemoryLimitBytes int64 `yaml:"memoryLimitBytes,omitempty"`
}

// Build instantiates every spec. The builtin PII scanner is always
// first so its mask values win ties.
func Build(ctx context.Context, specs []Spec) ([]Scanner, error) {
	engine := semver.MustParse(EngineVersion)

	scanners := []Scanner{NewDefaultPIIScanner()}
	for _, spec := range specs {
		if spec.Engine != "" {
			c, err := semver.NewConstraint(spec.Engine)
			if err != nil {
				return nil, fmt.Errorf("scanner: bad engine constraint for %s: %w", spec.Name, err)
			}
			if !c.Check(engine) {
				return nil, fmt.Errorf("scanner: %s requires engine %s, running %s",
					spec.Name, spec.Engine, EngineVersion)
			}
		}

		switch spec.Type {
		case "pattern":
			s, err := NewPatternScanner(spec.Name, spec.Patterns)
			if err != nil {
				return nil, fmt.Errorf("scanner: build %s: %w", spec.Name, err)
			}
			scanners = append(scanners, s)
		case "http":
			if spec.Endpoint == "" {
				return nil, fmt.Errorf("scanner: %s has no endpoint", spec.Name)
			}
			scanners = append(scanners, NewHTTPScanner(spec.Name, spec.Endpoint, nil))
		case "wasm":
			wasmBytes, err := os.ReadFile(spec.ModulePath)
			if err != nil {
				return nil, fmt.Errorf("scanner: read module for %s: %w", spec.Name, err)
			}
			s, err := NewWASMScanner(ctx, spec.Name, wasmBytes, spec.MemoryLimitBytes)
			if err != nil {
				return nil, err
			}
			scanners = append(scanners, s)
		default:
			return nil, fmt.Errorf("scanner: unknown type %q for %s", spec.Type, spec.Name)
		}
	}
	return scanners, nil
}
