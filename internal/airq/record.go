package airq

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field names shared by device and reference records.
const (
	FieldDatetime          = "datetime"
	FieldSensorDatetime    = "sensor_datetime"
	FieldReferenceDatetime = "reference_datetime"
	FieldTimeDiffMS        = "time_diff_ms"
	FieldDeviceName        = "device_name"
	FieldPM25              = "pm25"
	FieldPM10              = "pm10"
	FieldPM25Sensor        = "pm25_sensor"
	FieldPM10Sensor        = "pm10_sensor"
)

// Record is a free-form time-stamped measurement as returned by the backend.
// Unknown fields pass through untouched.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+5)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" if missing or null.
func (r Record) String(key string) string {
	return stringify(r[key])
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// DeviceName returns the device tag, "" for reference records.
func (r Record) DeviceName() string {
	return strings.TrimSpace(r.String(FieldDeviceName))
}

// Datetime returns the raw generic timestamp.
func (r Record) Datetime() string {
	return r.String(FieldDatetime)
}

// SensorDatetime returns the sensor's own timestamp: sensor_datetime when
// present, datetime otherwise.
func (r Record) SensorDatetime() string {
	if s := r.String(FieldSensorDatetime); s != "" {
		return s
	}
	return r.Datetime()
}

// Float returns the numeric value of a field. Numeric strings are accepted;
// null, empty and non-finite values report ok=false.
func (r Record) Float(key string) (float64, bool) {
	return toNumeric(r[key])
}

// HasValue reports whether the field is present and non-empty.
func (r Record) HasValue(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

func toNumeric(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Zoned forms RFC3339 does not cover: missing seconds, a space separator or
// a colon-less offset.
var zonedLayouts = []string{
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp converts an ISO-8601 string into a time. Zoned values keep
// their offset; naive values are interpreted in loc (time.Local when nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
