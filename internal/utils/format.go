package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatAge renders how long a ticket has been open at minute resolution,
// using the two largest units: "just now", "45m", "1h 15m", "3d 4h".
func FormatAge(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	minutes := int(d / time.Minute)
	hours, minutes := minutes/60, minutes%60
	days, hours := hours/24, hours%24

	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// TruncateText flattens text to a single line with collapsed whitespace and
// cuts it to maxLen runes, ending in "…" when cut.
func TruncateText(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen <= 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:maxLen-1]), " ") + "…"
}
