package classifier

import "math"

const (
	minConfidence = 85
	maxConfidence = 99
)

// Confidence scores a disaster judgment from the winning type strength, the
// strength of the urgency evidence, and whether a location was recognized.
// The result is always within [85, 99].
func Confidence(typeScore, urgencyScore float64, located bool) int {
	c := minConfidence
	c += int(math.Round(8 * math.Min(math.Max(typeScore, 0), 3) / 3))
	c += int(math.Round(4 * math.Min(math.Max(urgencyScore, 0), 2) / 2))
	if located {
		c += 2
	}
	return min(max(c, minConfidence), maxConfidence)
}
