package marketdata

import (
	"fmt"
	"strconv"
	"time"
)

// WindowMax is the alias for the widest window a timespan supports.
const WindowMax = "max"

// ParseWindow converts a window string such as "5d", "2w", "3m" or "1y"
// into a duration. Months count as 30 days and years as 365 days.
// "max" must be resolved per timespan before parsing.
func ParseWindow(window string) (time.Duration, error) {
	if window == WindowMax {
		return 0, fmt.Errorf("window %q must be resolved per timespan before parsing", window)
	}
	if len(window) < 2 {
		return 0, fmt.Errorf("unsupported window %q; use d/w/m/y (e.g., 5d, 1m)", window)
	}
	value, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("unsupported window %q; use d/w/m/y (e.g., 5d, 1m)", window)
	}
	day := 24 * time.Hour
	switch window[len(window)-1] {
	case 'd':
		return time.Duration(value) * day, nil
	case 'w':
		return time.Duration(value) * 7 * day, nil
	case 'm':
		// approximate months as 30 days
		return time.Duration(value) * 30 * day, nil
	case 'y':
		return time.Duration(value) * 365 * day, nil
	}
	return 0, fmt.Errorf("unsupported window %q; use d/w/m/y (e.g., 5d, 1m)", window)
}

// ResolveWindow replaces the "max" alias with the widest window the
// aggregate provider can realistically serve at the given timespan.
func ResolveWindow(window string, timespan Timespan) string {
	if window != WindowMax {
		return window
	}
	switch timespan {
	case Timespan1Min:
		return "30d"
	case Timespan15Min:
		return "180d"
	case Timespan1Hour:
		return "730d"
	case TimespanDay:
		return "5y"
	default: // month
		return "20y"
	}
}

// ValidateWindow checks a window string from a request. "max" is accepted.
func ValidateWindow(window string) error {
	if window == WindowMax {
		return nil
	}
	_, err := ParseWindow(window)
	return err
}
