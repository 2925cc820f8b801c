// Package rulesetconfig loads the gatekeeper's ruleset document: a single
// small YAML file controlling whether admission checking is enabled, the
// similarity threshold, and the MinHash/LSH dimensions.
package rulesetconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultSimilarityThreshold = 0.95
	defaultNumHashFunctions    = 128
	defaultNumBands            = 16

	minSimilarityThreshold = 0.5
	maxSimilarityThreshold = 1.0
	minNumHashFunctions    = 1
	maxNumHashFunctions    = 4096
	minNumBands            = 1
)

// Ruleset is the gatekeeper's operator-facing configuration (spec §6).
// Rules is accepted but intentionally ignored: nothing in SPEC_FULL.md
// models per-path or per-tenant overrides yet, and silently accepting an
// unknown mapping here is friendlier to forward-compatible config files
// than rejecting them outright.
type Ruleset struct {
	Enabled             bool           `yaml:"enabled"`
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	NumHashFunctions    int            `yaml:"num_hash_functions"`
	NumBands            int            `yaml:"num_bands"`
	Rules               map[string]any `yaml:"rules"`
}

// Default returns the documented defaults (spec §6): enabled, threshold
// 0.95, H=128, B=16.
func Default() Ruleset {
	return Ruleset{
		Enabled:             true,
		SimilarityThreshold: defaultSimilarityThreshold,
		NumHashFunctions:    defaultNumHashFunctions,
		NumBands:            defaultNumBands,
	}
}

// Load reads and validates a ruleset document from path. Missing optional
// fields fall back to Default()'s values; out-of-bounds values are an
// error rather than a silent clamp, since this is an operator-authored
// file (unlike a per-request threshold, which the service clamps).
func Load(path string) (Ruleset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Ruleset{}, fmt.Errorf("rulesetconfig: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a ruleset document from raw YAML bytes.
func Parse(raw []byte) (Ruleset, error) {
	rs := Default()
	// Decode into a pointer-field shadow so we can tell "absent" from
	// "explicitly zero" for every field that has a non-zero default.
	var shadow struct {
		Enabled             *bool          `yaml:"enabled"`
		SimilarityThreshold *float64       `yaml:"similarity_threshold"`
		NumHashFunctions    *int           `yaml:"num_hash_functions"`
		NumBands            *int           `yaml:"num_bands"`
		Rules               map[string]any `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &shadow); err != nil {
		return Ruleset{}, fmt.Errorf("rulesetconfig: invalid yaml: %w", err)
	}

	if shadow.Enabled != nil {
		rs.Enabled = *shadow.Enabled
	}
	if shadow.SimilarityThreshold != nil {
		rs.SimilarityThreshold = *shadow.SimilarityThreshold
	}
	if shadow.NumHashFunctions != nil {
		rs.NumHashFunctions = *shadow.NumHashFunctions
	}
	if shadow.NumBands != nil {
		rs.NumBands = *shadow.NumBands
	}
	rs.Rules = shadow.Rules

	if err := rs.Validate(); err != nil {
		return Ruleset{}, err
	}
	return rs, nil
}

// Validate enforces the bounds a ruleset document must respect.
func (r Ruleset) Validate() error {
	if r.SimilarityThreshold < minSimilarityThreshold || r.SimilarityThreshold > maxSimilarityThreshold {
		return fmt.Errorf("rulesetconfig: similarity_threshold %.4f out of bounds [%.2f, %.2f]",
			r.SimilarityThreshold, minSimilarityThreshold, maxSimilarityThreshold)
	}
	if r.NumHashFunctions < minNumHashFunctions || r.NumHashFunctions > maxNumHashFunctions {
		return fmt.Errorf("rulesetconfig: num_hash_functions %d out of bounds [%d, %d]",
			r.NumHashFunctions, minNumHashFunctions, maxNumHashFunctions)
	}
	if r.NumBands < minNumBands || r.NumBands > r.NumHashFunctions {
		return fmt.Errorf("rulesetconfig: num_bands %d out of bounds [%d, %d]",
			r.NumBands, minNumBands, r.NumHashFunctions)
	}
	if r.NumHashFunctions%r.NumBands != 0 {
		return fmt.Errorf("rulesetconfig: num_hash_functions (%d) must be evenly divisible by num_bands (%d)",
			r.NumHashFunctions, r.NumBands)
	}
	return nil
}
