package models

import (
	"time"
)

// Category is a tumor classification outcome.
type Category string

// Tumor categories.
const (
	CategoryGlioma     Category = "glioma"
	CategoryMeningioma Category = "meningioma"
	CategoryPituitary  Category = "pituitary"
	CategoryNoTumor    Category = "no-tumor"
)

// Categories lists every category in keyword-matching order, no-tumor last.
var Categories = []Category{CategoryGlioma, CategoryMeningioma, CategoryPituitary, CategoryNoTumor}

// IsTumor reports whether the category is tumor-positive.
func (c Category) IsTumor() bool {
	return c != CategoryNoTumor
}

// Severity is the risk level attached to a category.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// Label returns the human-readable risk label.
func (s Severity) Label() string {
	switch s {
	case SeverityHigh:
		return "High Risk"
	case SeverityModerate:
		return "Moderate Risk"
	default:
		return "Low Risk"
	}
}

// ConfidenceTier is a discretized bucket of the model's confidence.
type ConfidenceTier string

// Confidence tiers.
const (
	TierLow      ConfidenceTier = "low"
	TierModerate ConfidenceTier = "moderate"
	TierHigh     ConfidenceTier = "high"
	TierVeryHigh ConfidenceTier = "very-high"
)

// RawPrediction is a prediction as returned by the API, with confidence already
// normalized to a 0..100 percentage at the API boundary.
type RawPrediction struct {
	ID              string             `json:"id,omitempty"`
	Label           string             `json:"label"`
	Confidence      float64            `json:"confidence"`
	ConfidenceValid bool               `json:"confidence_valid"`
	Filename        string             `json:"filename,omitempty"`
	ProcessingTime  float64            `json:"processing_time,omitempty"`
	Probabilities   map[string]float64 `json:"probabilities,omitempty"`
}

// Interpretation is the derived, template-driven guidance for a prediction.
// It is never sent to the server.
type Interpretation struct {
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	ConfidenceTier  ConfidenceTier `json:"confidence_tier"`
	Confidence      float64        `json:"confidence"`
	LowConfidence   bool           `json:"low_confidence"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DetailPoints    []string       `json:"detail_points"`
	Recommendations []string       `json:"recommendations"`
}

// TumorDetected reports whether the interpretation is tumor-positive.
func (i *Interpretation) TumorDetected() bool {
	return i.Category.IsTumor()
}

// PredictionResult is a completed single-image prediction.
type PredictionResult struct {
	File           ImageFile      `json:"file"`
	Raw            RawPrediction  `json:"raw"`
	Interpretation Interpretation `json:"interpretation"`
	CompletedAt    time.Time      `json:"completed_at"`
}
