package prompt

import (
	"regexp"
	"strconv"
	"strings"
)

// smallModelMaxParamsB is the largest parameter count, in billions, that still
// counts as a small model.
const smallModelMaxParamsB = 3.0

// paramRe matches a parameter-count token such as 0.5B, 1B, 2b or 135M that is
// not glued to a longer number or word.
var paramRe = regexp.MustCompile(`(?i)(?:^|[^0-9.a-z])(\d+(?:\.\d+)?)([bm])(?:[^a-z0-9]|$)`)

// ParamsBillions extracts the parameter count from a model id. ok is false when
// the id carries no recognizable size token.
func ParamsBillions(modelID string) (float64, bool) {
	m := paramRe.FindStringSubmatch(modelID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if strings.EqualFold(m[2], "m") {
		n /= 1000
	}
	return n, true
}

// SmallModel is the default Classifier: ids whose size token is at most 3B.
func SmallModel(modelID string) bool {
	n, ok := ParamsBillions(modelID)
	return ok && n <= smallModelMaxParamsB
}
