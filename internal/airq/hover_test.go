package airq

import (
	"testing"
	"time"
)

func TestHoverMetadata(t *testing.T) {
	ref := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		rec    AlignedRecord
		expect [3]string
	}{
		{
			name:   "sensor ahead",
			rec:    AlignedRecord{ReferenceTime: ref, SensorTime: ref.Add(5 * time.Minute)},
			expect: [3]string{"2025-06-01 10:00", "2025-06-01 10:05", "+5.0 min (sensor ahead)"},
		},
		{
			name:   "sensor behind",
			rec:    AlignedRecord{ReferenceTime: ref, SensorTime: ref.Add(-90 * time.Second)},
			expect: [3]string{"2025-06-01 10:00", "2025-06-01 09:58", "-1.5 min (sensor behind)"},
		},
		{
			name:   "exact",
			rec:    AlignedRecord{ReferenceTime: ref, SensorTime: ref},
			expect: [3]string{"2025-06-01 10:00", "2025-06-01 10:00", "0 min (no adjustment)"},
		},
		{
			name:   "no sensor",
			rec:    AlignedRecord{ReferenceTime: ref},
			expect: [3]string{"2025-06-01 10:00", "N/A", "no sensor data"},
		},
		{
			name:   "nothing",
			rec:    AlignedRecord{},
			expect: [3]string{"N/A", "N/A", "adjustment unavailable"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := HoverMetadata(c.rec); got != c.expect {
				t.Fatalf("got %v, want %v", got, c.expect)
			}
		})
	}
}

func TestPollutantTraceSkipsNulls(t *testing.T) {
	ref := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	records := []AlignedRecord{
		{Datetime: "2025-06-01T10:00", ReferenceTime: ref, SensorTime: ref, Fields: Record{FieldPM25: 12.0}},
		{Datetime: "2025-06-01T11:00", ReferenceTime: ref.Add(time.Hour), Fields: Record{FieldPM25: nil}},
		{Datetime: "2025-06-01T12:00", ReferenceTime: ref.Add(2 * time.Hour), Fields: Record{FieldPM25: "abc"}},
	}

	trace := PollutantTrace(records, FieldPM25, "PM2.5")
	if trace == nil || len(trace.Points) != 1 {
		t.Fatalf("expected one point, got %+v", trace)
	}
	if trace.Points[0].X != "2025-06-01T10:00" || trace.Points[0].Y != 12 {
		t.Fatalf("unexpected point %+v", trace.Points[0])
	}

	if PollutantTrace(records, FieldPM10, "PM10") != nil {
		t.Fatalf("expected nil trace when no value is present")
	}
}

func TestReferenceTrace(t *testing.T) {
	trace := ReferenceTrace([]Record{
		{FieldDatetime: "2025-06-01T10:00", FieldPM10: 40.0},
		{FieldDatetime: "2025-06-01T11:00"},
	}, FieldPM10, "Reference PM10")
	if trace == nil || len(trace.Points) != 1 {
		t.Fatalf("expected one point, got %+v", trace)
	}
	if trace.Points[0].Metadata[0] != "2025-06-01T10:00" {
		t.Fatalf("unexpected metadata %v", trace.Points[0].Metadata)
	}
}
