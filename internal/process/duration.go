package process

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// isoDuration matches the day-time subset of ISO-8601 durations used by
// BPMN timer definitions: PnDTnHnMnS.
var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration accepts Go duration strings ("90m") and ISO-8601 day-time
// durations ("PT1H30M", "P1DT2H"). Durations must be positive.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}

	if m := isoDuration.FindStringSubmatch(s); m != nil && s != "P" && s != "PT" {
		var d time.Duration
		units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
		for i, unit := range units {
			if m[i+1] == "" {
				continue
			}
			n, err := strconv.ParseInt(m[i+1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			d += time.Duration(n) * unit
		}
		if m[4] != "" {
			secs, err := strconv.ParseFloat(m[4], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			d += time.Duration(secs * float64(time.Second))
		}
		if d <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", s)
		}
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}
