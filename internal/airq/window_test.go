package airq

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func hourlyReference(day string, hours int) []Record {
	out := make([]Record, 0, hours)
	for h := 0; h < hours; h++ {
		out = append(out, Record{FieldDatetime: fmt.Sprintf("%sT%02d:00:00", day, h), FieldPM25: 10})
	}
	return out
}

func TestComputeWindowRejectsReversedRange(t *testing.T) {
	full := []Record{sensor("Aire2", "2025-06-22T10:00:00", 1)}
	ref := hourlyReference("2025-06-22", 24)

	_, err := ComputeWindow("2025-06-25", "2025-06-20", full, ref, WithLocation(time.UTC))
	if !errors.Is(err, ErrInvalidWindow) || !errors.Is(err, ErrReversedWindow) {
		t.Fatalf("expected a reversed ErrInvalidWindow, got %v", err)
	}
}

func TestComputeWindowRejectsMissingDates(t *testing.T) {
	if _, err := ComputeWindow("", "2025-06-20", nil, nil); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if _, err := ComputeWindow("2025-06-20", "garbage", nil, nil); !errors.Is(err, ErrBadDate) || errors.Is(err, ErrReversedWindow) {
		t.Fatalf("expected an unparseable-date ErrInvalidWindow, got %v", err)
	}
}

func TestComputeWindowPerDeviceOrdering(t *testing.T) {
	var full []Record
	ref := make([]Record, 0, 200)
	base := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		ts := base.Add(time.Duration(i) * 30 * time.Minute)
		ref = append(ref, Record{FieldDatetime: ts.Format("2006-01-02T15:04:05")})
		full = append(full, sensor("Aire2", ts.Add(time.Minute).Format("2006-01-02T15:04:05"), 5))
		if i < 50 {
			full = append(full, sensor("Aire4", ts.Add(2*time.Minute).Format("2006-01-02T15:04:05"), 7))
		}
	}

	res, err := ComputeWindow("2025-06-20", "2025-06-25", full, ref,
		WithLocation(time.UTC),
		WithLabels(map[string]string{"Aire2": "Sensor Aire2", "Aire4": "Sensor Aire4"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	per := res.Window.PerDevice
	if len(per) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(per))
	}
	if per[0].Device != "Aire2" || per[0].Records != 200 {
		t.Fatalf("expected Aire2 with 200 records first, got %+v", per[0])
	}
	if per[1].Device != "Aire4" || per[1].Records < 50 {
		t.Fatalf("expected Aire4 second, got %+v", per[1])
	}
	if per[0].Label != "Sensor Aire2" {
		t.Fatalf("label not applied: %q", per[0].Label)
	}
	if per[0].PM25 != per[0].Records || per[0].PM10 != 0 {
		t.Fatalf("unexpected pollutant counts: %+v", per[0])
	}
	if res.Window.TotalRecords != len(res.Aligned) {
		t.Fatalf("total_records %d does not match %d aligned", res.Window.TotalRecords, len(res.Aligned))
	}
	// 200 half-hour slots span 100 distinct hours.
	if res.Window.HoursCovered != 100 {
		t.Fatalf("expected 100 hours covered, got %d", res.Window.HoursCovered)
	}
}

func TestComputeWindowTieOrdersByLabel(t *testing.T) {
	ref := hourlyReference("2025-06-22", 3)
	full := []Record{
		sensor("Zeta", "2025-06-22T00:00:00", 1),
		sensor("Alpha", "2025-06-22T00:00:00", 1),
	}

	res, err := ComputeWindow("2025-06-22", "2025-06-22", full, ref, WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Window.PerDevice[0].Device != "Alpha" {
		t.Fatalf("expected label ascending on equal counts, got %+v", res.Window.PerDevice)
	}
}

func TestComputeWindowBoundsAreDayStartToElevenPM(t *testing.T) {
	ref := []Record{
		{FieldDatetime: "2025-06-21T23:00:00"},
		{FieldDatetime: "2025-06-22T00:00:00"},
		{FieldDatetime: "2025-06-22T23:00:00"},
		{FieldDatetime: "2025-06-22T23:30:00"},
	}
	full := []Record{
		sensor("Aire2", "2025-06-21T23:00:00", 1),
		sensor("Aire2", "2025-06-22T00:00:00", 1),
		sensor("Aire2", "2025-06-22T23:00:00", 1),
		sensor("Aire2", "2025-06-22T23:30:00", 1),
	}

	res, err := ComputeWindow("2025-06-22", "2025-06-22", full, ref, WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Reference) != 2 {
		t.Fatalf("expected 2 reference records in range, got %d", len(res.Reference))
	}
	if len(res.Aligned) != 2 {
		t.Fatalf("expected 2 aligned records, got %d", len(res.Aligned))
	}
	for _, rec := range res.Aligned {
		if rec.SensorDatetime == "2025-06-22T23:30:00" || rec.SensorDatetime == "2025-06-21T23:00:00" {
			t.Fatalf("sample outside the window was aligned: %s", rec.SensorDatetime)
		}
	}
	if !res.Window.End.Equal(time.Date(2025, 6, 22, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window end %v", res.Window.End)
	}
}

func TestComputeWindowNoData(t *testing.T) {
	ref := hourlyReference("2025-06-22", 24)
	full := []Record{sensor("Aire2", "2025-07-01T10:00:00", 1)}

	_, err := ComputeWindow("2025-06-22", "2025-06-22", full, ref, WithLocation(time.UTC))
	if !errors.Is(err, ErrNoWindowData) {
		t.Fatalf("expected ErrNoWindowData, got %v", err)
	}

	_, err = ComputeWindow("2025-06-22", "2025-06-22", nil, nil, WithLocation(time.UTC))
	if !errors.Is(err, ErrNoWindowData) {
		t.Fatalf("expected ErrNoWindowData for empty series, got %v", err)
	}
}

func TestComputeWindowIsIdempotent(t *testing.T) {
	ref := hourlyReference("2025-06-22", 24)
	full := []Record{
		sensor("Aire2", "2025-06-22T03:10:00", 1),
		sensor("Aire4", "2025-06-22T05:50:00", 2),
		sensor("Aire2", "2025-06-22T12:00:00", 3),
	}

	first, err := ComputeWindow("2025-06-22", "2025-06-22", full, ref, WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ComputeWindow("2025-06-22", "2025-06-22", full, ref, WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Window.TotalRecords != second.Window.TotalRecords ||
		first.Window.HoursCovered != second.Window.HoursCovered ||
		len(first.Window.PerDevice) != len(second.Window.PerDevice) {
		t.Fatalf("summaries differ: %+v vs %+v", first.Window, second.Window)
	}
	for i := range first.Aligned {
		a, b := first.Aligned[i], second.Aligned[i]
		if a.Datetime != b.Datetime || a.DeviceName != b.DeviceName || a.TimeDiffMS != b.TimeDiffMS {
			t.Fatalf("aligned record %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestHoursCoveredUsesUTCHours(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	aligned := []AlignedRecord{
		{ReferenceTime: time.Date(2025, 6, 22, 10, 0, 0, 0, bogota)},
		{ReferenceTime: time.Date(2025, 6, 22, 15, 30, 0, 0, time.UTC)},
		{ReferenceTime: time.Date(2025, 6, 22, 11, 0, 0, 0, bogota)},
		{},
	}
	if got := HoursCovered(aligned); got != 2 {
		t.Fatalf("expected 2 distinct hours, got %d", got)
	}
}

func TestDevicesWithData(t *testing.T) {
	w := WindowSummary{PerDevice: []DeviceSummary{
		{Device: "Aire2", Records: 10},
		{Device: "Aire4", Records: 0},
		{Device: "Aire5", Records: 3},
	}}
	got := w.DevicesWithData(1)
	if len(got) != 2 || got[0] != "Aire2" || got[1] != "Aire5" {
		t.Fatalf("unexpected devices %v", got)
	}
}
