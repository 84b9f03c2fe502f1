package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectSteps returns the steps named by a 1-based range expression such
// as "1-3,5" or "2-". An empty expression selects every step.
//
// Selected steps keep their declared order regardless of the order in the
// expression, and each step is selected at most once.
func SelectSteps(steps []Step, expr string) ([]Step, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return append([]Step(nil), steps...), nil
	}

	selected := make([]bool, len(steps))
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseRange(part, len(steps))
		if err != nil {
			return nil, err
		}
		for i := lo; i <= hi; i++ {
			selected[i-1] = true
		}
	}

	out := make([]Step, 0, len(steps))
	for i, s := range steps {
		if selected[i] {
			out = append(out, s)
		}
	}
	return out, nil
}

func parseRange(part string, n int) (int, int, error) {
	loStr, hiStr, isRange := strings.Cut(part, "-")
	lo, err := parseStepNumber(loStr, 1)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid step range %q: %w", part, err)
	}
	hi := lo
	if isRange {
		hi, err = parseStepNumber(hiStr, n)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid step range %q: %w", part, err)
		}
	}
	if lo < 1 || hi > n || lo > hi {
		return 0, 0, fmt.Errorf("invalid step range %q: steps are numbered 1-%d", part, n)
	}
	return lo, hi, nil
}

func parseStepNumber(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
