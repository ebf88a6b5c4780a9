// Package interpret derives a medical interpretation from a raw prediction.
//
// Interpretation is a pure, table-driven function of (label, confidence):
//
//	category       = first keyword of {glioma, meningioma, pituitary} found in the label, else no-tumor
//	severity       = fixed per category
//	confidenceTier = >=90 very-high, >=70 high, >=50 moderate, else low (0..100 scale)
//	recommendations = table[(category is tumor, confidenceTier)]
//
// No network or storage access happens here, and callers always receive fresh slices.
package interpret

import (
	"math"
	"strings"

	"github.com/rewired-gh/brainscan/internal/models"
)

// Tier lower bounds on the 0..100 confidence scale.
const (
	veryHighThreshold = 90.0
	highThreshold     = 70.0
	moderateThreshold = 50.0
)

var keywords = []struct {
	keyword  string
	category models.Category
}{
	{"glioma", models.CategoryGlioma},
	{"meningioma", models.CategoryMeningioma},
	{"pituitary", models.CategoryPituitary},
}

// Interpret maps a label and 0..100 confidence onto an Interpretation.
// A non-finite or negative confidence yields the low tier with LowConfidence set.
func Interpret(label string, confidence float64) models.Interpretation {
	category := Categorize(label)
	tmpl := categoryTemplates[category]

	valid := !math.IsNaN(confidence) && !math.IsInf(confidence, 0) && confidence >= 0
	if !valid {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	tier := Tier(confidence)

	return models.Interpretation{
		Category:        category,
		Severity:        tmpl.severity,
		ConfidenceTier:  tier,
		Confidence:      confidence,
		LowConfidence:   !valid || tier == models.TierLow,
		Title:           tmpl.title,
		Description:     tmpl.description,
		DetailPoints:    clone(tmpl.detailPoints),
		Recommendations: clone(recommendations[recommendationKey{tumor: category.IsTumor(), tier: tier}]),
	}
}

// InterpretRaw interprets an API prediction, honouring its confidence validity flag.
func InterpretRaw(raw models.RawPrediction) models.Interpretation {
	if !raw.ConfidenceValid {
		return Interpret(raw.Label, math.NaN())
	}
	return Interpret(raw.Label, raw.Confidence)
}

// Categorize matches the label against category keywords, case-insensitively, first match wins.
func Categorize(label string) models.Category {
	l := strings.ToLower(label)
	for _, k := range keywords {
		if strings.Contains(l, k.keyword) {
			return k.category
		}
	}
	return models.CategoryNoTumor
}

// Tier buckets a 0..100 confidence. NaN falls through to low.
func Tier(confidence float64) models.ConfidenceTier {
	switch {
	case confidence >= veryHighThreshold:
		return models.TierVeryHigh
	case confidence >= highThreshold:
		return models.TierHigh
	case confidence >= moderateThreshold:
		return models.TierModerate
	default:
		return models.TierLow
	}
}

func clone(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
