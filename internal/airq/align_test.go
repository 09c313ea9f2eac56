package airq

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func sensor(device, ts string, pm25 float64) Record {
	return Record{FieldDeviceName: device, FieldSensorDatetime: ts, FieldPM25: pm25}
}

func reference(ts string) Record {
	return Record{FieldDatetime: ts, "value": 20}
}

func TestAlignToReferenceNearestWithinTolerance(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00")}
	devs := []Record{sensor("Aire2", "2025-06-01T10:05", 18)}

	got := AlignToReference(devs, refs, 60)
	if len(got) != 1 {
		t.Fatalf("expected 1 aligned record, got %d", len(got))
	}
	rec := got[0]
	if rec.Datetime != "2025-06-01T10:00" {
		t.Fatalf("datetime must be the reference timestamp, got %q", rec.Datetime)
	}
	if rec.SensorDatetime != "2025-06-01T10:05" {
		t.Fatalf("unexpected sensor_datetime %q", rec.SensorDatetime)
	}
	if rec.TimeDiffMS != 300000 {
		t.Fatalf("expected time_diff_ms 300000, got %d", rec.TimeDiffMS)
	}
	if v, ok := rec.Fields.Float(FieldPM25); !ok || v != 18 {
		t.Fatalf("device fields not carried over: %v", rec.Fields)
	}
}

func TestAlignAcceptsZonedTimestampsWithoutSeconds(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00Z")}
	devs := []Record{sensor("Aire2", "2025-06-01T15:10+05:00", 18)}

	got := AlignToReference(devs, refs, 60)
	if len(got) != 1 {
		t.Fatalf("expected 1 aligned record, got %d", len(got))
	}
	if got[0].TimeDiffMS != 600000 {
		t.Fatalf("expected time_diff_ms 600000, got %d", got[0].TimeDiffMS)
	}
}

func TestAlignToReferenceOutsideTolerance(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00")}
	devs := []Record{sensor("Aire2", "2025-06-01T11:05", 18)}

	got := AlignToReference(devs, refs, 60)
	if len(got) != 0 {
		t.Fatalf("expected no aligned records, got %d", len(got))
	}
}

func TestAlignOnlyMatchingReferencePoint(t *testing.T) {
	refs := []Record{
		reference("2025-06-01T08:00"),
		reference("2025-06-01T10:00"),
		reference("2025-06-01T12:00"),
	}
	devs := []Record{sensor("Aire4", "2025-06-01T10:20", 11)}

	got := NewAligner(30*time.Minute, time.UTC).Align(devs, refs)
	if len(got) != 1 {
		t.Fatalf("expected 1 aligned record, got %d", len(got))
	}
	if got[0].Datetime != "2025-06-01T10:00" {
		t.Fatalf("expected match on the second reference point, got %q", got[0].Datetime)
	}
}

func TestAlignToleranceBoundaryIsInclusive(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00:00")}

	got := NewAligner(time.Hour, time.UTC).Align(
		[]Record{sensor("Aire2", "2025-06-01T11:00:00", 1)}, refs)
	if len(got) != 1 {
		t.Fatalf("difference equal to tolerance must match, got %d records", len(got))
	}

	got = NewAligner(time.Hour, time.UTC).Align(
		[]Record{sensor("Aire2", "2025-06-01T11:00:01", 1)}, refs)
	if len(got) != 0 {
		t.Fatalf("difference above tolerance must not match, got %d records", len(got))
	}
}

func TestAlignTieGoesToEarlierSample(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00")}
	devs := []Record{
		sensor("Aire2", "2025-06-01T10:10", 2),
		sensor("Aire2", "2025-06-01T09:50", 1),
	}

	got := NewAligner(time.Hour, time.UTC).Align(devs, refs)
	if len(got) != 1 {
		t.Fatalf("expected 1 aligned record, got %d", len(got))
	}
	if got[0].SensorDatetime != "2025-06-01T09:50" {
		t.Fatalf("expected the earlier sample on a tie, got %q", got[0].SensorDatetime)
	}
}

func TestAlignDropsUntaggedAndUnparseable(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00")}
	devs := []Record{
		{FieldSensorDatetime: "2025-06-01T10:00", FieldPM25: 5},
		{FieldDeviceName: "", FieldSensorDatetime: "2025-06-01T10:00"},
		{FieldDeviceName: "Aire5", FieldSensorDatetime: "not a date"},
	}

	got := NewAligner(time.Hour, time.UTC).Align(devs, refs)
	if len(got) != 0 {
		t.Fatalf("expected no aligned records, got %+v", got)
	}
}

func TestAlignFallsBackToDatetime(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00")}
	devs := []Record{{FieldDeviceName: "Aire2", FieldDatetime: "2025-06-01T10:02"}}

	got := NewAligner(time.Hour, time.UTC).Align(devs, refs)
	if len(got) != 1 {
		t.Fatalf("expected 1 aligned record, got %d", len(got))
	}
	if got[0].SensorDatetime != "2025-06-01T10:02" {
		t.Fatalf("unexpected sensor_datetime %q", got[0].SensorDatetime)
	}
	flat := got[0].Record()
	if flat[FieldDatetime] != "2025-06-01T10:00" {
		t.Fatalf("flattened datetime must be the reference timestamp, got %v", flat[FieldDatetime])
	}
}

func TestAlignOrderAndUniqueness(t *testing.T) {
	refs := []Record{
		reference("2025-06-01T10:00"),
		reference("2025-06-01T11:00"),
	}
	devs := []Record{
		sensor("Aire4", "2025-06-01T10:59", 1),
		sensor("Aire2", "2025-06-01T10:01", 1),
		sensor("Aire2", "2025-06-01T10:03", 1),
		sensor("Aire4", "2025-06-01T10:04", 1),
	}

	got := NewAligner(30*time.Minute, time.UTC).Align(devs, refs)

	want := []struct{ ref, device string }{
		{"2025-06-01T10:00", "Aire4"},
		{"2025-06-01T10:00", "Aire2"},
		{"2025-06-01T11:00", "Aire4"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d aligned records, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Datetime != w.ref || got[i].DeviceName != w.device {
			t.Fatalf("record %d: expected %s/%s, got %s/%s", i, w.ref, w.device, got[i].Datetime, got[i].DeviceName)
		}
	}
}

func TestAlignEmptyInputs(t *testing.T) {
	a := NewAligner(0, nil)
	if a.Tolerance != DefaultTolerance {
		t.Fatalf("expected default tolerance, got %v", a.Tolerance)
	}
	if got := a.Align(nil, []Record{reference("2025-06-01T10:00")}); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", got)
	}
	if got := a.Align([]Record{sensor("Aire2", "2025-06-01T10:00", 1)}, nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", got)
	}
}

func TestAlignIndependentOfDeviceOrder(t *testing.T) {
	refs := []Record{reference("2025-06-01T10:00"), reference("2025-06-01T11:00")}
	devs := []Record{
		sensor("Aire2", "2025-06-01T10:20", 1),
		sensor("Aire2", "2025-06-01T09:55", 2),
		sensor("Aire2", "2025-06-01T11:30", 3),
	}
	reversed := []Record{devs[2], devs[1], devs[0]}

	a := NewAligner(time.Hour, time.UTC)
	first := a.Align(devs, refs)
	second := a.Align(reversed, refs)
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SensorDatetime != second[i].SensorDatetime {
			t.Fatalf("record %d differs: %s vs %s", i, first[i].SensorDatetime, second[i].SensorDatetime)
		}
	}
}

// exhaustiveNearest is the linear reference for FindNearest.
func exhaustiveNearest(candidates []Candidate, target time.Time, tolerance time.Duration) (int, bool) {
	best := -1
	var bestDiff time.Duration
	for i, c := range candidates {
		d := absDuration(c.Time.Sub(target))
		if d > tolerance {
			continue
		}
		if best < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best, best >= 0
}

func TestFindNearestMatchesExhaustiveScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for round := 0; round < 200; round++ {
		n := rng.Intn(20)
		candidates := make([]Candidate, n)
		for i := range candidates {
			// Minute resolution over a few hours produces plenty of ties.
			ts := base.Add(time.Duration(rng.Intn(300)) * time.Minute)
			candidates[i] = Candidate{Time: ts, Record: Record{"i": fmt.Sprint(i)}}
		}
		sortCandidates(candidates)

		target := base.Add(time.Duration(rng.Intn(300)) * time.Minute)
		tolerance := time.Duration(rng.Intn(90)) * time.Minute

		got, diff, ok := FindNearest(candidates, target, tolerance)
		wantIdx, wantOK := exhaustiveNearest(candidates, target, tolerance)
		if ok != wantOK {
			t.Fatalf("round %d: found=%v, exhaustive found=%v", round, ok, wantOK)
		}
		if !ok {
			continue
		}
		want := candidates[wantIdx]
		if !got.Time.Equal(want.Time) || got.Record["i"] != want.Record["i"] {
			t.Fatalf("round %d: got %v (%v), want %v (%v)", round, got.Time, got.Record["i"], want.Time, want.Record["i"])
		}
		if diff != absDuration(want.Time.Sub(target)) {
			t.Fatalf("round %d: unexpected diff %v", round, diff)
		}
	}
}

func sortCandidates(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Time.Before(c[j-1].Time); j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
