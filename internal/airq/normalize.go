package airq

import "github.com/i474232898/airq-calibration/internal/common"

var (
	datetimeAliases    = []string{"datetime", "timestamp", "fecha", "date", "time"}
	pm25Aliases        = []string{"pm25", "pm25_sensor", "pm25_ref", "pm2_5", "pm25_raw"}
	pm10Aliases        = []string{"pm10", "pm10_sensor", "pm10_ref", "pm10_raw"}
	temperatureAliases = []string{"temperature", "temp", "temperature_c", "temperature_celsius"}
	humidityAliases    = []string{"rh", "relative_humidity", "humidity", "humidity_relative"}
)

// NormalizeDataset maps the column aliases used by the different sources
// onto datetime, pm25, pm10, temperature and rh. Records without any
// timestamp are dropped; other fields are kept.
func NormalizeDataset(raw []Record) []Record {
	out := make([]Record, 0, len(raw))
	for _, entry := range raw {
		if entry == nil {
			continue
		}
		dt := stringify(common.Coalesce(entry, datetimeAliases...))
		if dt == "" {
			continue
		}
		rec := entry.Clone()
		rec[FieldDatetime] = dt
		rec[FieldPM25] = numericOrNil(common.Coalesce(entry, pm25Aliases...))
		rec[FieldPM10] = numericOrNil(common.Coalesce(entry, pm10Aliases...))
		rec["temperature"] = numericOrNil(common.Coalesce(entry, temperatureAliases...))
		rec["rh"] = numericOrNil(common.Coalesce(entry, humidityAliases...))
		out = append(out, rec)
	}
	return out
}

func numericOrNil(v any) any {
	if f, ok := toNumeric(v); ok {
		return f
	}
	return nil
}
