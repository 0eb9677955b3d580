package risk

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
)

// Snapshot holds the engagement signals of one learner at one point in time.
// Every field is optional; invalid values are dealt with by Normalize.
type Snapshot struct {
	CompletedPercent          null.Float64 `json:"completed_percent"`
	AvgQuizScore              null.Float64 `json:"avg_quiz_score"`
	ConsecutiveMissedSessions null.Int     `json:"consecutive_missed_sessions"`
	LastLogin                 null.String  `json:"last_login"` // calendar date/time, any offset
}

// SnapshotFromMap builds a Snapshot from loosely typed data (CSV rows, decoded JSON).
// A value of the wrong type or an unparsable string is absent; numeric strings are accepted.
func SnapshotFromMap(m map[string]interface{}) Snapshot {
	return Snapshot{
		CompletedPercent:          toFloat(m["completed_percent"]),
		AvgQuizScore:              toFloat(m["avg_quiz_score"]),
		ConsecutiveMissedSessions: toInt(m["consecutive_missed_sessions"]),
		LastLogin:                 toString(m["last_login"]),
	}
}

func toFloat(v interface{}) null.Float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return null.Float64{}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return null.Float64{}
		}
		f = parsed
	default:
		return null.Float64{}
	}
	if math.IsNaN(f) {
		return null.Float64{}
	}
	return null.Float64From(f)
}

func toInt(v interface{}) null.Int {
	f := toFloat(v)
	if !f.Valid {
		return null.Int{}
	}
	// saturate before converting: anything past the cap scores the same
	switch {
	case f.Float64 > math.MaxInt32:
		return null.IntFrom(math.MaxInt32)
	case f.Float64 < math.MinInt32:
		return null.IntFrom(math.MinInt32)
	}
	return null.IntFrom(int(f.Float64))
}

func toString(v interface{}) null.String {
	switch val := v.(type) {
	case string:
		return null.StringFrom(val)
	case time.Time:
		return null.StringFrom(val.Format(time.RFC3339Nano))
	}
	return null.String{}
}

// layouts accepted for last login, tried in order. Layouts without an
// offset are read as UTC.
var timestampLayouts = []struct {
	layout    string
	hasOffset bool
}{
	{time.RFC3339, true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05Z07:00", true},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", false},
}

// ParseTimestamp parses a calendar date/time. Fractional seconds are optional.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range timestampLayouts {
		var t time.Time
		var err error
		if l.hasOffset {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, time.UTC)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
