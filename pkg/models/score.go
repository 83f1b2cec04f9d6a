package models

import "math"

// Dimension weights. They sum to 1.0.
const (
	WeightSpecificity   = 0.20
	WeightContext       = 0.25
	WeightIntent        = 0.25
	WeightActionability = 0.15
	WeightConstraints   = 0.15
)

// DimensionScore is a single 0-10 dimension with its fixed weight.
type DimensionScore struct {
	Score  int     `json:"score"`
	Weight float64 `json:"weight"`
}

// ScoreDimensions holds the five weighted dimensions.
type ScoreDimensions struct {
	Specificity   DimensionScore `json:"specificity"`
	Context       DimensionScore `json:"context"`
	Intent        DimensionScore `json:"intent"`
	Actionability DimensionScore `json:"actionability"`
	Constraints   DimensionScore `json:"constraints"`
}

// ScoreBreakdown is the five-dimension representation of prompt quality.
type ScoreBreakdown struct {
	Dimensions ScoreDimensions `json:"dimensions"`
	Total      float64         `json:"total"`
}

// DimensionValues are raw 0-10 inputs for CreateScoreBreakdown.
type DimensionValues struct {
	Specificity   int
	Context       int
	Intent        int
	Actionability int
	Constraints   int
}

// LegacyScores is the four-dimension form returned by the scoring template.
type LegacyScores struct {
	Clarity       int `json:"clarity"`
	Specificity   int `json:"specificity"`
	Context       int `json:"context"`
	Actionability int `json:"actionability"`
}

// Round10 rounds to one decimal place.
func Round10(v float64) float64 {
	return math.Round(v*10) / 10
}

// ClampDimension bounds a dimension score to 0..10.
func ClampDimension(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// CalculateWeightedTotal returns round10(Σ score × weight).
func CalculateWeightedTotal(d ScoreDimensions) float64 {
	sum := float64(d.Specificity.Score)*d.Specificity.Weight +
		float64(d.Context.Score)*d.Context.Weight +
		float64(d.Intent.Score)*d.Intent.Weight +
		float64(d.Actionability.Score)*d.Actionability.Weight +
		float64(d.Constraints.Score)*d.Constraints.Weight
	return Round10(sum)
}

// CreateScoreBreakdown applies the fixed weights to clamped values and computes the total.
func CreateScoreBreakdown(v DimensionValues) ScoreBreakdown {
	dims := ScoreDimensions{
		Specificity:   DimensionScore{Score: ClampDimension(v.Specificity), Weight: WeightSpecificity},
		Context:       DimensionScore{Score: ClampDimension(v.Context), Weight: WeightContext},
		Intent:        DimensionScore{Score: ClampDimension(v.Intent), Weight: WeightIntent},
		Actionability: DimensionScore{Score: ClampDimension(v.Actionability), Weight: WeightActionability},
		Constraints:   DimensionScore{Score: ClampDimension(v.Constraints), Weight: WeightConstraints},
	}
	return ScoreBreakdown{Dimensions: dims, Total: CalculateWeightedTotal(dims)}
}

// FromLegacy maps the four-dimension form: clarity routes to intent and
// constraints is synthesized as max(0, round(mean - 1)).
func FromLegacy(l LegacyScores) ScoreBreakdown {
	mean := float64(l.Clarity+l.Specificity+l.Context+l.Actionability) / 4
	constraints := int(math.Round(mean - 1))
	if constraints < 0 {
		constraints = 0
	}
	return CreateScoreBreakdown(DimensionValues{
		Specificity:   l.Specificity,
		Context:       l.Context,
		Intent:        l.Clarity,
		Actionability: l.Actionability,
		Constraints:   constraints,
	})
}
