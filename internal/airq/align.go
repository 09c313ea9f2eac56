package airq

import (
	"encoding/json"
	"sort"
	"time"
)

// DefaultTolerance is the matching half-window used by the Stage 2 view.
const DefaultTolerance = 60 * time.Minute

// Candidate is a device record paired with its parsed sensor timestamp.
type Candidate struct {
	Time   time.Time
	Record Record
}

// AlignedRecord is a device sample matched to a reference timestamp.
type AlignedRecord struct {
	DeviceName        string
	Datetime          string // always the reference timestamp
	ReferenceDatetime string
	SensorDatetime    string
	TimeDiffMS        int64
	ReferenceTime     time.Time
	SensorTime        time.Time
	Fields            Record
}

// Record flattens the match back into a free-form record: the device's
// original fields with the alignment fields overwritten.
func (a AlignedRecord) Record() Record {
	out := a.Fields.Clone()
	out[FieldDatetime] = a.Datetime
	out[FieldReferenceDatetime] = a.ReferenceDatetime
	out[FieldSensorDatetime] = a.SensorDatetime
	out[FieldTimeDiffMS] = a.TimeDiffMS
	out[FieldDeviceName] = a.DeviceName
	return out
}

func (a AlignedRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Record())
}

// FindNearest returns the candidate closest to target within tolerance.
// candidates must be sorted by Time ascending. Ties go to the first candidate
// in sorted order, which makes the result identical to an exhaustive scan
// that only replaces the best match on a strictly smaller difference.
// A difference equal to tolerance is accepted.
func FindNearest(candidates []Candidate, target time.Time, tolerance time.Duration) (Candidate, time.Duration, bool) {
	if len(candidates) == 0 {
		return Candidate{}, 0, false
	}

	// First index whose time is >= target.
	idx := sort.Search(len(candidates), func(i int) bool {
		return !candidates[i].Time.Before(target)
	})

	best := -1
	var bestDiff time.Duration

	if idx > 0 {
		// Walk back to the first of any run of equal timestamps.
		j := idx - 1
		for j > 0 && candidates[j-1].Time.Equal(candidates[j].Time) {
			j--
		}
		best = j
		bestDiff = absDuration(target.Sub(candidates[j].Time))
	}
	if idx < len(candidates) {
		diff := absDuration(candidates[idx].Time.Sub(target))
		if best < 0 || diff < bestDiff {
			best = idx
			bestDiff = diff
		}
	}

	if best < 0 || bestDiff > tolerance {
		return Candidate{}, 0, false
	}
	return candidates[best], bestDiff, true
}

// Aligner matches device series to a reference series.
type Aligner struct {
	Tolerance time.Duration
	Location  *time.Location
}

// NewAligner creates an aligner; a non-positive tolerance means DefaultTolerance.
func NewAligner(tolerance time.Duration, loc *time.Location) *Aligner {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aligner{Tolerance: tolerance, Location: loc}
}

// devicePools groups records by device_name, keeping first-seen device order.
// Records without a device tag or a valid sensor timestamp are dropped.
func (a *Aligner) devicePools(deviceRecords []Record) ([]string, map[string][]Candidate) {
	order := make([]string, 0)
	pools := make(map[string][]Candidate)

	for _, rec := range deviceRecords {
		device := rec.DeviceName()
		if device == "" {
			continue
		}
		ts, ok := ParseTimestamp(rec.SensorDatetime(), a.Location)
		if !ok {
			continue
		}
		if _, seen := pools[device]; !seen {
			order = append(order, device)
		}
		pools[device] = append(pools[device], Candidate{Time: ts, Record: rec})
	}

	for _, device := range order {
		pool := pools[device]
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].Time.Before(pool[j].Time)
		})
	}
	return order, pools
}

// Align pairs every reference timestamp with the nearest in-tolerance sample
// of each device. Output follows reference order, then device order.
func (a *Aligner) Align(deviceRecords, referenceRecords []Record) []AlignedRecord {
	aligned := make([]AlignedRecord, 0)
	if len(deviceRecords) == 0 || len(referenceRecords) == 0 {
		return aligned
	}

	order, pools := a.devicePools(deviceRecords)
	if len(order) == 0 {
		return aligned
	}

	for _, ref := range referenceRecords {
		refRaw := ref.Datetime()
		refTS, ok := ParseTimestamp(refRaw, a.Location)
		if !ok {
			continue
		}
		for _, device := range order {
			match, diff, found := FindNearest(pools[device], refTS, a.Tolerance)
			if !found {
				continue
			}
			sensorRaw := match.Record.SensorDatetime()
			if sensorRaw == "" {
				sensorRaw = match.Time.Format(time.RFC3339)
			}
			aligned = append(aligned, AlignedRecord{
				DeviceName:        device,
				Datetime:          refRaw,
				ReferenceDatetime: refRaw,
				SensorDatetime:    sensorRaw,
				TimeDiffMS:        diff.Milliseconds(),
				ReferenceTime:     refTS,
				SensorTime:        match.Time,
				Fields:            match.Record,
			})
		}
	}
	return aligned
}

// AlignToReference aligns device records to reference records using a
// tolerance expressed in minutes and local time for naive timestamps.
func AlignToReference(deviceRecords, referenceRecords []Record, toleranceMinutes float64) []AlignedRecord {
	tolerance := time.Duration(toleranceMinutes * float64(time.Minute))
	return NewAligner(tolerance, time.Local).Align(deviceRecords, referenceRecords)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
