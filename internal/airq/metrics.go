package airq

// SeriesMetrics summarises a normalised series for the single-sensor view.
type SeriesMetrics struct {
	Records   int      `json:"records"`
	PM25Count int      `json:"pm25_count"`
	PM10Count int      `json:"pm10_count"`
	PM25Avg   *float64 `json:"pm25_avg"`
	PM10Avg   *float64 `json:"pm10_avg"`
}

// ComputeMetrics averages pm25 and pm10 over the records that carry them.
// Averages are nil when no value is present.
func ComputeMetrics(records []Record) SeriesMetrics {
	var (
		sumPM25 float64
		sumPM10 float64
	)
	m := SeriesMetrics{Records: len(records)}

	for _, r := range records {
		if v, ok := r.Float(FieldPM25); ok {
			sumPM25 += v
			m.PM25Count++
		}
		if v, ok := r.Float(FieldPM10); ok {
			sumPM10 += v
			m.PM10Count++
		}
	}

	if m.PM25Count > 0 {
		avg := sumPM25 / float64(m.PM25Count)
		m.PM25Avg = &avg
	}
	if m.PM10Count > 0 {
		avg := sumPM10 / float64(m.PM10Count)
		m.PM10Avg = &avg
	}
	return m
}
