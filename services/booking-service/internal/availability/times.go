package availability

import (
	"fmt"
	"time"
)

// Clock times cross the wire as "HH:mm" strings. Internally they are
// minutes since midnight, so interval math never depends on string
// comparison being zero-padded.

func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
