package airq

import (
	"fmt"
	"math"
	"time"
)

const (
	labelUnavailable   = "N/A"
	hoverLayout        = "2006-01-02 15:04"
	adjustmentMissing  = "adjustment unavailable"
	adjustmentNone     = "0 min (no adjustment)"
	adjustmentNoRef    = "no reference"
	adjustmentNoSensor = "no sensor data"
)

// HoverMetadata returns the reference label, the sensor label and the time
// adjustment applied to an aligned record.
func HoverMetadata(rec AlignedRecord) [3]string {
	ref := rec.ReferenceTime
	sensor := rec.SensorTime

	refLabel := labelUnavailable
	if !ref.IsZero() {
		refLabel = ref.Format(hoverLayout)
	}
	sensorLabel := labelUnavailable
	if !sensor.IsZero() {
		sensorLabel = sensor.Format(hoverLayout)
	}

	return [3]string{refLabel, sensorLabel, adjustmentLabel(ref, sensor)}
}

func adjustmentLabel(ref, sensor time.Time) string {
	switch {
	case ref.IsZero() && sensor.IsZero():
		return adjustmentMissing
	case ref.IsZero():
		return adjustmentNoRef
	case sensor.IsZero():
		return adjustmentNoSensor
	}

	diffMinutes := sensor.Sub(ref).Minutes()
	if math.Abs(diffMinutes) < 0.01 {
		return adjustmentNone
	}
	if diffMinutes > 0 {
		return fmt.Sprintf("+%.1f min (sensor ahead)", diffMinutes)
	}
	return fmt.Sprintf("%.1f min (sensor behind)", diffMinutes)
}

// TracePoint is one chart point with its hover metadata.
type TracePoint struct {
	X        string    `json:"x"`
	Y        float64   `json:"y"`
	Metadata [3]string `json:"metadata"`
}

// Trace is a named series ready for a chart sink.
type Trace struct {
	Name   string       `json:"name"`
	Field  string       `json:"field"`
	Points []TracePoint `json:"points"`
}

// PollutantTrace builds the series of one pollutant field from aligned
// records, skipping null and non-numeric values. It returns nil when no point
// survives.
func PollutantTrace(records []AlignedRecord, field, label string) *Trace {
	points := make([]TracePoint, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Fields.Float(field)
		if !ok {
			continue
		}
		points = append(points, TracePoint{
			X:        rec.Datetime,
			Y:        v,
			Metadata: HoverMetadata(rec),
		})
	}
	if len(points) == 0 {
		return nil
	}
	return &Trace{Name: label, Field: field, Points: points}
}

// ReferenceTrace builds a series from untagged reference records.
func ReferenceTrace(records []Record, field, label string) *Trace {
	points := make([]TracePoint, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Float(field)
		if !ok {
			continue
		}
		dt := rec.Datetime()
		points = append(points, TracePoint{
			X:        dt,
			Y:        v,
			Metadata: [3]string{dt, labelUnavailable, adjustmentNoSensor},
		})
	}
	if len(points) == 0 {
		return nil
	}
	return &Trace{Name: label, Field: field, Points: points}
}
