package models

import (
	"encoding/json"
)

// HistoryEntry is one past prediction as recorded by the backend.
// Confidence is a 0..100 percentage.
type HistoryEntry struct {
	Timestamp  string  `json:"timestamp"`
	Filename   string  `json:"filename"`
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Analytics is the backend's aggregate summary. Only the counters are typed; the full payload
// is kept opaque in Raw.
type Analytics struct {
	TotalPredictions   int             `json:"total_predictions"`
	TumorDetected      int             `json:"tumor_detected"`
	NoTumorDetected    int             `json:"no_tumor_detected"`
	TumorDetectionRate string          `json:"tumor_detection_rate,omitempty"`
	Raw                json.RawMessage `json:"-"`
}

// SystemInfo bundles the unauthenticated system metadata endpoints.
type SystemInfo struct {
	Health  json.RawMessage `json:"health"`
	Classes json.RawMessage `json:"classes"`
	Model   json.RawMessage `json:"model"`
}

// ChartSet holds backend-rendered charts (base64 PNG keyed by name) and statistics.
type ChartSet struct {
	Charts     map[string]string `json:"charts"`
	Statistics json.RawMessage   `json:"statistics"`
}
