package chart

import (
	"strings"
	"testing"

	"github.com/i474232898/airq-calibration/internal/airq"
)

func trace(field, name string, ys ...float64) *airq.Trace {
	t := &airq.Trace{Name: name, Field: field}
	for i, y := range ys {
		t.Points = append(t.Points, airq.TracePoint{
			X:        "2023-06-22T0" + string(rune('0'+i)) + ":00:00",
			Y:        y,
			Metadata: [3]string{"2023-06-22 00:00", "2023-06-22 00:02", "+2.0 min (sensor ahead)"},
		})
	}
	return t
}

func TestDeviceChartsOnePerPollutant(t *testing.T) {
	devices := []airq.DeviceTraces{{
		Device: "Aire2",
		Label:  "Sensor Aire2",
		Traces: []*airq.Trace{
			trace(airq.FieldPM25Sensor, "PM2.5", 10, 12),
			trace(airq.FieldPM10Sensor, "PM10", 20),
		},
	}}
	reference := []*airq.Trace{trace(airq.FieldPM25, "Reference PM25", 11, 13)}

	lines := DeviceCharts(devices, reference)
	if len(lines) != 2 {
		t.Fatalf("expected 2 charts, got %d", len(lines))
	}
	if id := lines[0].ChartID; id != "stage2_aire2_pm25" {
		t.Fatalf("unexpected chart id %q", id)
	}
	if n := len(lines[0].MultiSeries); n != 2 {
		t.Fatalf("expected sensor and reference series, got %d", n)
	}
	if n := len(lines[1].MultiSeries); n != 1 {
		t.Fatalf("expected only the sensor series for pm10, got %d", n)
	}
}

func TestRenderPage(t *testing.T) {
	entries := []airq.ComparisonEntry{
		{Device: "Aire2", Label: "Sensor Aire2", Records: []airq.Record{{"datetime": "2023-06-22T10:00:00", "pm25": 10.0}}},
		{Device: "Aire4", Label: "Sensor Aire4"},
	}

	page, err := RenderPage("Device comparison", ComparisonCharts(entries))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	html := string(page)
	for _, want := range []string{"comparison_pm25", "comparison_pm10", "Sensor Aire2", "WHO PM2.5 (15)"} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered page is missing %q", want)
		}
	}
}

func TestPollutantOf(t *testing.T) {
	cases := map[string]string{
		"pm25":        airq.FieldPM25,
		"pm25_sensor": airq.FieldPM25,
		"pm10_sensor": airq.FieldPM10,
		"rh":          "",
	}
	for field, want := range cases {
		if got := pollutantOf(field); got != want {
			t.Errorf("pollutantOf(%q) = %q, want %q", field, got, want)
		}
	}
}
