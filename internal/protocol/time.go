package protocol

import (
	"fmt"
	"strings"
	"time"
)

// LocalTime is a wall-clock timestamp serialized as ISO-8601 local date-time
// without a zone offset, e.g. "2025-01-01T12:30:05" or with a fractional
// second "2025-01-01T12:30:05.250". Clients render it as-is, so the server
// never attaches zone information.
type LocalTime struct {
	time.Time
}

const (
	localTimeLayout     = "2006-01-02T15:04:05"
	localTimeLayoutFrac = "2006-01-02T15:04:05.000"
	localTimeLayoutMin  = "2006-01-02T15:04"
)

// NewLocalTime truncates t to millisecond precision, matching the wire form.
func NewLocalTime(t time.Time) LocalTime {
	return LocalTime{t.Truncate(time.Millisecond)}
}

// MarshalJSON renders the timestamp without zone. The fractional part is
// emitted only when non-zero.
func (lt LocalTime) MarshalJSON() ([]byte, error) {
	layout := localTimeLayout
	if lt.Nanosecond() != 0 {
		layout = localTimeLayoutFrac
	}
	return []byte(`"` + lt.Format(layout) + `"`), nil
}

// UnmarshalJSON accepts local date-times with optional seconds and optional
// fractional seconds.
func (lt *LocalTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*lt = LocalTime{}
		return nil
	}
	// time.Parse accepts a fractional second after the seconds field even
	// when the layout omits it, so two layouts cover every accepted form.
	for _, layout := range []string{localTimeLayout, localTimeLayoutMin} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*lt = LocalTime{t}
			return nil
		}
	}
	return fmt.Errorf("protocol: invalid local time %q", s)
}
