package airq

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidWindow is returned when window dates are missing, malformed or reversed.
	ErrInvalidWindow = errors.New("invalid window range")
	// ErrBadDate narrows ErrInvalidWindow to a date that does not parse.
	ErrBadDate = errors.New("unparseable date")
	// ErrReversedWindow narrows ErrInvalidWindow to an end before the start.
	ErrReversedWindow = errors.New("end date precedes start date")
	// ErrNoWindowData is returned when a window holds no alignable data.
	ErrNoWindowData = errors.New("no data available for the selected window")
)

const dateLayout = "2006-01-02"

// DeviceSummary is the per-device breakdown of a window.
type DeviceSummary struct {
	Device  string `json:"device"`
	Label   string `json:"label"`
	Records int    `json:"records"`
	PM25    int    `json:"pm25"`
	PM10    int    `json:"pm10"`
}

// WindowSummary aggregates the aligned records of a closed date range.
type WindowSummary struct {
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	TotalRecords int             `json:"total_records"`
	HoursCovered int             `json:"hours_covered"`
	PerDevice    []DeviceSummary `json:"per_device"`
	Station      any             `json:"station,omitempty"`
}

// DevicesWithData lists devices having at least minRecords aligned records,
// in summary order.
func (w WindowSummary) DevicesWithData(minRecords int) []string {
	out := make([]string, 0, len(w.PerDevice))
	for _, d := range w.PerDevice {
		if d.Records >= minRecords {
			out = append(out, d.Device)
		}
	}
	return out
}

// WindowResult is the outcome of a successful ComputeWindow.
type WindowResult struct {
	Window    WindowSummary   `json:"window"`
	Aligned   []AlignedRecord `json:"lowcost"`
	Reference []Record        `json:"rmcab"`
}

type windowOptions struct {
	labels   map[string]string
	location *time.Location
	station  any
}

// WindowOption customises ComputeWindow.
type WindowOption func(*windowOptions)

// WithLabels sets display labels used for the per-device sort and output.
func WithLabels(labels map[string]string) WindowOption {
	return func(o *windowOptions) {
		o.labels = labels
	}
}

// WithLocation sets the zone for naive timestamps and window boundaries.
func WithLocation(loc *time.Location) WindowOption {
	return func(o *windowOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithStation attaches reference station metadata to the summary.
func WithStation(station any) WindowOption {
	return func(o *windowOptions) {
		o.station = station
	}
}

// WindowBounds returns the hour-resolution closed interval for two calendar
// dates: start at 00:00 and end at 23:00.
func WindowBounds(startDate, endDate string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	startDate = strings.TrimSpace(startDate)
	endDate = strings.TrimSpace(endDate)
	if startDate == "" || endDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: missing date", ErrInvalidWindow)
	}
	start, ok := ParseTimestamp(startDate, loc)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w %q", ErrInvalidWindow, ErrBadDate, startDate)
	}
	end, ok := ParseTimestamp(endDate, loc)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w %q", ErrInvalidWindow, ErrBadDate, endDate)
	}
	start = start.In(loc)
	end = end.In(loc)

	lower := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	upper := time.Date(end.Year(), end.Month(), end.Day(), 23, 0, 0, 0, loc)
	if lower.After(upper) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidWindow, ErrReversedWindow)
	}
	return lower, upper, nil
}

// ComputeWindow filters the cached full series to [startDate 00:00,
// endDate 23:00], aligns them with the 60-minute tolerance and summarises
// the result. It fails with ErrInvalidWindow or ErrNoWindowData; it never
// retries.
func ComputeWindow(startDate, endDate string, fullDevice, fullReference []Record, opts ...WindowOption) (WindowResult, error) {
	o := windowOptions{location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}

	lower, upper, err := WindowBounds(startDate, endDate, o.location)
	if err != nil {
		return WindowResult{}, err
	}

	inRange := func(raw string) bool {
		ts, ok := ParseTimestamp(raw, o.location)
		return ok && !ts.Before(lower) && !ts.After(upper)
	}

	devices := make([]Record, 0)
	for _, rec := range fullDevice {
		if inRange(rec.SensorDatetime()) {
			devices = append(devices, rec)
		}
	}
	reference := make([]Record, 0)
	for _, rec := range fullReference {
		if inRange(rec.Datetime()) {
			reference = append(reference, rec)
		}
	}
	if len(devices) == 0 || len(reference) == 0 {
		return WindowResult{}, ErrNoWindowData
	}

	aligned := NewAligner(DefaultTolerance, o.location).Align(devices, reference)
	if len(aligned) == 0 {
		return WindowResult{}, ErrNoWindowData
	}

	return WindowResult{
		Window: WindowSummary{
			Start:        lower,
			End:          upper,
			StartDate:    strings.TrimSpace(startDate),
			EndDate:      strings.TrimSpace(endDate),
			TotalRecords: len(aligned),
			HoursCovered: HoursCovered(aligned),
			PerDevice:    SummarizeDevices(aligned, o.labels),
			Station:      o.station,
		},
		Aligned:   aligned,
		Reference: reference,
	}, nil
}

// HoursCovered counts distinct reference hours (UTC) among aligned records.
func HoursCovered(aligned []AlignedRecord) int {
	hours := make(map[time.Time]struct{}, len(aligned))
	for _, rec := range aligned {
		if rec.ReferenceTime.IsZero() {
			continue
		}
		hours[rec.ReferenceTime.UTC().Truncate(time.Hour)] = struct{}{}
	}
	return len(hours)
}

// SummarizeDevices counts aligned records and non-null PM values per device,
// sorted by record count descending then label ascending.
func SummarizeDevices(aligned []AlignedRecord, labels map[string]string) []DeviceSummary {
	index := make(map[string]int)
	out := make([]DeviceSummary, 0)

	for _, rec := range aligned {
		if rec.DeviceName == "" {
			continue
		}
		i, ok := index[rec.DeviceName]
		if !ok {
			label := labels[rec.DeviceName]
			if label == "" {
				label = rec.DeviceName
			}
			out = append(out, DeviceSummary{Device: rec.DeviceName, Label: label})
			i = len(out) - 1
			index[rec.DeviceName] = i
		}
		out[i].Records++
		if hasPollutant(rec.Fields, FieldPM25Sensor, FieldPM25) {
			out[i].PM25++
		}
		if hasPollutant(rec.Fields, FieldPM10Sensor, FieldPM10) {
			out[i].PM10++
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Records != out[j].Records {
			return out[i].Records > out[j].Records
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// hasPollutant checks the sensor-specific field first, then the generic one.
func hasPollutant(rec Record, keys ...string) bool {
	for _, k := range keys {
		if rec.HasValue(k) {
			return true
		}
	}
	return false
}

// FormatDate renders a window boundary as a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
