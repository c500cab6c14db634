package bundler

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"
	"sort"

	"golang.org/x/text/unicode/norm"

	"accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
	platformstrings "accord/pkg/platform/strings"
)

// DirectIdentifiers are always stripped from bundles.
var DirectIdentifiers = []string{"case_id", "decision_id", "requester_id", "user_id"}

// PIIFields are stripped when the privacy config asks for PII suppression.
var PIIFields = []string{"address", "date_of_birth", "email", "ip_address", "name", "phone", "ssn"}

const (
	bundleIDDomain = "accord/bundle-id/v1"
	bundleIDLength = 16
)

// SuppressedFields lists the input keys a bundle built under cfg never summarises.
func SuppressedFields(cfg models.PrivacyConfig) []string {
	fields := slices.Clone(DirectIdentifiers)
	if cfg.SuppressPII {
		fields = append(fields, PIIFields...)
	}
	fields = platformstrings.DedupeAndTrimLower(append(fields, cfg.SuppressFields...))
	sort.Strings(fields)
	return fields
}

// BundleIDFor derives a bundle ID from its members' decision IDs. Member order
// does not matter and the IDs cannot be recovered from the result.
func BundleIDFor(decisionIDs []id.DecisionID) id.BundleID {
	normalized := make([]string, len(decisionIDs))
	for i, d := range decisionIDs {
		normalized[i] = norm.NFC.String(string(d))
	}
	sort.Strings(normalized)

	h := sha256.New()
	h.Write([]byte(bundleIDDomain))
	for _, d := range normalized {
		h.Write([]byte{0x00})
		h.Write([]byte(d))
	}
	return id.BundleID(hex.EncodeToString(h.Sum(nil))[:bundleIDLength])
}

// VerifyKAnonymity reports whether bundle satisfies requiredK.
func VerifyKAnonymity(bundle models.AnonymousBundle, requiredK int) bool {
	return bundle.PrecedentCount >= requiredK && bundle.KValue >= requiredK
}

// ValidateBundle checks the structural invariants a well-formed bundle holds.
func ValidateBundle(bundle models.AnonymousBundle) error {
	if bundle.BundleID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "bundle_id is required")
	}
	if bundle.PrivacyGuarantee != models.PrivacyGuaranteeKAnonymity {
		return dErrors.Newf(dErrors.CodeValidation, "bundle %s: unsupported privacy guarantee %q", bundle.BundleID, bundle.PrivacyGuarantee)
	}
	if bundle.PrecedentCount < bundle.KValue {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "bundle %s: precedent_count %d below k_value %d", bundle.BundleID, bundle.PrecedentCount, bundle.KValue)
	}
	if total := bundle.VerdictTotal(); total != bundle.PrecedentCount {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "bundle %s: verdict total %d does not match precedent_count %d", bundle.BundleID, total, bundle.PrecedentCount)
	}
	return nil
}

// Shareable filters bundles down to those every member consented to share.
func Shareable(bundles []models.AnonymousBundle) []models.AnonymousBundle {
	out := make([]models.AnonymousBundle, 0, len(bundles))
	for _, b := range bundles {
		if b.ConsentGiven {
			out = append(out, b)
		}
	}
	return out
}

// NoiseSource yields uniform samples in [0, 1).
type NoiseSource interface {
	Float64() float64
}

// laplace draws from Laplace(0, scale) by inverse transform sampling.
func laplace(src NoiseSource, scale float64) float64 {
	if scale == 0 {
		return 0
	}
	u := src.Float64() - 0.5
	tail := 1 - 2*math.Abs(u)
	if tail <= 0 {
		tail = math.SmallestNonzeroFloat64
	}
	return -scale * math.Copysign(1, u) * math.Log(tail)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
