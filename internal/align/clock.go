package align

import (
	"fmt"
	"regexp"
	"strconv"
)

const secondsPerDay = 86400

// FormatClock renders whole seconds the way Python's str(timedelta) does:
// "H:MM:SS" below a day, "D day(s), H:MM:SS" beyond, with negative values
// expressed as a negative day count plus a positive remainder.
func FormatClock(seconds int64) string {
	days := seconds / secondsPerDay
	rem := seconds % secondsPerDay
	if rem < 0 {
		days--
		rem += secondsPerDay
	}

	clock := fmt.Sprintf("%d:%02d:%02d", rem/3600, (rem%3600)/60, rem%60)
	if days == 0 {
		return clock
	}
	unit := "days"
	if days == 1 || days == -1 {
		unit = "day"
	}
	return fmt.Sprintf("%d %s, %s", days, unit, clock)
}

var clockRe = regexp.MustCompile(`^(?:(-?\d+) days?, )?(\d+):(\d{2}):(\d{2})$`)

// ParseClock converts a FormatClock string back to whole seconds.
func ParseClock(s string) (int64, error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	var days int64
	if m[1] != "" {
		days, _ = strconv.ParseInt(m[1], 10, 64)
	}
	h, _ := strconv.ParseInt(m[2], 10, 64)
	mins, _ := strconv.ParseInt(m[3], 10, 64)
	sec, _ := strconv.ParseInt(m[4], 10, 64)
	return days*secondsPerDay + h*3600 + mins*60 + sec, nil
}
