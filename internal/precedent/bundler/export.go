package bundler

import (
	"time"

	"accord/internal/precedent/models"
	dErrors "accord/pkg/domain-errors"
)

// ExportEnvelope is the serialisable form of a bundle set handed to another node
// or written to disk.
type ExportEnvelope struct {
	ExportTimestamp  time.Time                `json:"export_timestamp"`
	BundleCount      int                      `json:"bundle_count"`
	PrivacyGuarantee string                   `json:"privacy_guarantee"`
	Bundles          []models.AnonymousBundle `json:"bundles"`
}

// Export wraps bundles in an envelope stamped with at.
func Export(bundles []models.AnonymousBundle, at time.Time) ExportEnvelope {
	out := make([]models.AnonymousBundle, len(bundles))
	for i, b := range bundles {
		out[i] = b.Clone()
	}
	return ExportEnvelope{
		ExportTimestamp:  at.UTC(),
		BundleCount:      len(out),
		PrivacyGuarantee: models.PrivacyGuaranteeKAnonymity,
		Bundles:          out,
	}
}

// Import validates an envelope and returns its bundles. Every bundle must be
// well formed and satisfy requiredK.
func Import(env ExportEnvelope, requiredK int) ([]models.AnonymousBundle, error) {
	if env.PrivacyGuarantee != models.PrivacyGuaranteeKAnonymity {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unsupported privacy guarantee %q", env.PrivacyGuarantee)
	}
	if env.BundleCount != len(env.Bundles) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "bundle_count %d does not match %d bundles", env.BundleCount, len(env.Bundles))
	}
	out := make([]models.AnonymousBundle, 0, len(env.Bundles))
	for _, b := range env.Bundles {
		if err := ValidateBundle(b); err != nil {
			return nil, err
		}
		if !VerifyKAnonymity(b, requiredK) {
			return nil, dErrors.Newf(dErrors.CodeValidation, "bundle %s does not satisfy k=%d", b.BundleID, requiredK)
		}
		out = append(out, b.Clone())
	}
	return out, nil
}
