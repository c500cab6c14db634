package models

import (
	"math"

	dErrors "accord/pkg/domain-errors"
)

// PrivacyConfig controls how the bundler generalises precedents.
// It is immutable per bundler instance.
type PrivacyConfig struct {
	// MinK is the minimum number of precedents a bundle summarises.
	MinK int `json:"min_k" yaml:"min_k"`
	// MaxK caps a bundle's size; larger groups are split. 0 disables the cap.
	MaxK int `json:"max_k" yaml:"max_k"`
	// SimilarityThreshold is the cosine similarity two precedents need to be
	// neighbours during clustering.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	// RequireConsent keeps precedents without subject consent out of bundling
	// entirely. When false they are bundled but the bundle is marked unshareable.
	RequireConsent bool `json:"require_consent" yaml:"require_consent"`
	// SuppressPII adds the PII field categories to the suppressed-field list.
	SuppressPII bool `json:"suppress_pii" yaml:"suppress_pii"`
	// SuppressFields names extra input keys that are never summarised.
	SuppressFields []string `json:"suppress_fields,omitempty" yaml:"suppress_fields"`
	// DifferentialPrivacy perturbs avg_confidence with Laplace noise of scale NoiseScale.
	DifferentialPrivacy bool    `json:"differential_privacy" yaml:"differential_privacy"`
	NoiseScale          float64 `json:"noise_scale" yaml:"noise_scale"`
}

// DefaultPrivacyConfig returns the configuration nodes start with.
func DefaultPrivacyConfig() PrivacyConfig {
	return PrivacyConfig{
		MinK:                5,
		MaxK:                50,
		SimilarityThreshold: 0.7,
		RequireConsent:      true,
		SuppressPII:         true,
		DifferentialPrivacy: false,
		NoiseScale:          0.1,
	}
}

// Validate checks the configuration invariants.
//
// MaxK, when set, must be at least 2*MinK so that an oversized group can always
// be split into parts that each still hold MinK precedents.
func (c PrivacyConfig) Validate() error {
	if c.MinK < 1 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "min_k must be at least 1")
	}
	if c.MaxK < 0 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "max_k must not be negative")
	}
	if c.MaxK > 0 && c.MaxK < 2*c.MinK {
		return dErrors.Newf(dErrors.CodeInvalidConfiguration, "max_k must be 0 or at least 2*min_k (%d)", 2*c.MinK)
	}
	if math.IsNaN(c.SimilarityThreshold) || c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "similarity_threshold must be within [0,1]")
	}
	if math.IsNaN(c.NoiseScale) || math.IsInf(c.NoiseScale, 0) || c.NoiseScale < 0 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "noise_scale must be a finite non-negative number")
	}
	return nil
}

// Eps is the DBSCAN neighbourhood radius over cosine distance.
func (c PrivacyConfig) Eps() float64 {
	return 1 - c.SimilarityThreshold
}
