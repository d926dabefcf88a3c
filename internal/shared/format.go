package shared

import (
	"fmt"

	"github.com/goccy/go-json"
)

// FormatDuration renders a second count as m:ss (or h:mm:ss past the hour).
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// VisibilityString renders a playlist's public flag; nil means the server
// never reported one.
func VisibilityString(public *bool) string {
	switch {
	case public == nil:
		return "unknown"
	case *public:
		return "public"
	default:
		return "private"
	}
}

// MarshalJSON encodes v, optionally indented for human-facing output.
func MarshalJSON(v any, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
