package api

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rewired-gh/brainscan/internal/logger"
)

// The backend reports confidence in several shapes. The canonical client contract is a
// 0..100 percentage, resolved with this precedence:
//
//	confidence_percentage  number, 0..100
//	confidence_score       number, 0..1
//	confidence             number (<= 1 is a fraction) or string ("92.30%" or "0.923")
//
// Anything else is reported as invalid rather than guessed.

func normalizeConfidence(percentage, score *float64, raw json.RawMessage) (float64, bool) {
	switch {
	case percentage != nil:
		return clampPercent(*percentage)
	case score != nil:
		return clampPercent(*score * 100)
	}
	return parseConfidence(raw)
}

func parseConfidence(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fromNumber(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0, false
		}
		return clampPercent(v)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return fromNumber(v)
}

// fromNumber treats values in [0,1] as fractions and anything larger as a percentage.
func fromNumber(v float64) (float64, bool) {
	if v >= 0 && v <= 1 {
		return clampPercent(v * 100)
	}
	return clampPercent(v)
}

func clampPercent(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	if v > 100 {
		logger.Warn("Confidence %.4f out of range, clamping to 100", v)
		return 100, true
	}
	return v, true
}
