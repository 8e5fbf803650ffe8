package alerts

import (
	"strconv"
	"strings"
)

// Sample is one reading of the throughput monitor.
type Sample struct {
	TPS      float64
	Segments int
}

// evalCondition evaluates a rule condition string against a Sample.
//
// Supported expressions (field operator value):
//
//	tps < 5
//	tps >= 1000
//	segments > 10000
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, s Sample) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := numericField(field, s)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the sample.
func numericField(field string, s Sample) (float64, bool) {
	switch field {
	case "tps":
		return s.TPS, true
	case "segments":
		return float64(s.Segments), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
