package commands

import (
	"fmt"
	"strconv"
	"time"
)

const timeLayout = "2006-01-02 15:04"

// parseEndSpec accepts either a minute count ("60") or an absolute
// "YYYY-MM-DD HH:MM" instant. Exactly one of the return values is set.
func parseEndSpec(spec string, now time.Time) (time.Duration, time.Time, error) {
	if minutes, err := strconv.Atoi(spec); err == nil {
		if minutes <= 0 {
			return 0, time.Time{}, fmt.Errorf("duration must be positive, got %d", minutes)
		}
		return time.Duration(minutes) * time.Minute, time.Time{}, nil
	}

	end, err := parseLocalTime(spec)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !end.After(now) {
		return 0, time.Time{}, fmt.Errorf("end time %q is in the past", spec)
	}
	return 0, end, nil
}

func parseLocalTime(spec string) (time.Time, error) {
	for _, layout := range []string{timeLayout, timeLayout + ":05"} {
		if t, err := time.ParseInLocation(layout, spec, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use YYYY-MM-DD HH:MM or a minute count", spec)
}
