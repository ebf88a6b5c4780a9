package models

import (
	"errors"
	"time"
)

// BatchItem pairs a submitted file with its correlated result.
// Unresolved items have nil Raw and Interpretation.
type BatchItem struct {
	File           ImageFile       `json:"file"`
	Raw            *RawPrediction  `json:"raw,omitempty"`
	Interpretation *Interpretation `json:"interpretation,omitempty"`
	Resolved       bool            `json:"resolved"`
}

// BatchSummary holds aggregate counts for a batch.
type BatchSummary struct {
	Total             int              `json:"total"`
	TumorDetected     int              `json:"tumor_detected"`
	NoTumor           int              `json:"no_tumor"`
	Unresolved        int              `json:"unresolved"`
	ByCategory        map[Category]int `json:"by_category"`
	AverageConfidence float64          `json:"average_confidence"`
}

// BatchResultSet is the ordered outcome of one batch submission.
type BatchResultSet struct {
	Items       []BatchItem  `json:"items"`
	Summary     BatchSummary `json:"summary"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Validate checks the set's invariants: Total matches the number of submitted files and
// counts add up.
func (b *BatchResultSet) Validate() error {
	if b.Summary.Total != len(b.Items) {
		return errors.New("batch total must equal number of submitted files")
	}
	resolved := 0
	for _, item := range b.Items {
		if item.Resolved != (item.Interpretation != nil) {
			return errors.New("resolved items must carry an interpretation")
		}
		if item.Resolved {
			resolved++
		}
	}
	if b.Summary.TumorDetected+b.Summary.NoTumor != resolved {
		return errors.New("tumor + no tumor counts must equal resolved items")
	}
	if b.Summary.Unresolved != len(b.Items)-resolved {
		return errors.New("unresolved count must equal unmatched items")
	}
	return nil
}
