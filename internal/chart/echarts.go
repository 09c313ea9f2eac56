package chart

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/i474232898/airq-calibration/internal/airq"
	"github.com/i474232898/airq-calibration/internal/common"
)

const unit = "µg/m³"

var pollutantLabels = map[string]string{
	airq.FieldPM25: "PM2.5",
	airq.FieldPM10: "PM10",
}

// pollutantOf maps a trace field (pm25, pm25_sensor, ...) to its pollutant.
func pollutantOf(field string) string {
	for _, p := range airq.Pollutants {
		if strings.HasPrefix(field, p) {
			return p
		}
	}
	return ""
}

func lineData(t *airq.Trace) []opts.LineData {
	data := make([]opts.LineData, 0, len(t.Points))
	for _, p := range t.Points {
		data = append(data, opts.LineData{
			// The name doubles as hover text: reference time, sensor time, adjustment.
			Name:  strings.Join(p.Metadata[:], " | "),
			Value: []interface{}{p.X, p.Y},
		})
	}
	return data
}

func guidelineOpts(pollutant string) []charts.SeriesOpts {
	var out []charts.SeriesOpts
	for _, g := range airq.Guidelines {
		if g.Pollutant != pollutant {
			continue
		}
		out = append(out, charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{
			Name:  g.Name,
			YAxis: g.Value,
		}))
	}
	if len(out) > 0 {
		out = append(out, charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
			Symbol: []string{"none", "none"},
			Label:  &opts.Label{Show: opts.Bool(true), Formatter: "{b}"},
		}))
	}
	return out
}

func newLine(id, title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{ChartID: id, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: unit}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	return line
}

// DeviceCharts builds one chart per device and pollutant: the sensor series,
// the reference series of the same pollutant and the guideline limits.
func DeviceCharts(devices []airq.DeviceTraces, reference []*airq.Trace) []*charts.Line {
	refByPollutant := make(map[string]*airq.Trace, len(reference))
	for _, t := range reference {
		if t != nil {
			refByPollutant[pollutantOf(t.Field)] = t
		}
	}

	var out []*charts.Line
	for _, d := range devices {
		for _, t := range d.Traces {
			if t == nil {
				continue
			}
			pollutant := pollutantOf(t.Field)
			line := newLine(
				common.ElementID("stage2", d.Device, pollutant),
				fmt.Sprintf("%s %s", d.Label, pollutantLabels[pollutant]),
				fmt.Sprintf("%d aligned points", len(t.Points)),
			)

			sensorOpts := append([]charts.SeriesOpts{
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
			}, guidelineOpts(pollutant)...)
			line.AddSeries(d.Label, lineData(t), sensorOpts...)

			if ref, ok := refByPollutant[pollutant]; ok {
				line.AddSeries(ref.Name, lineData(ref),
					charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
					charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}),
				)
			}
			out = append(out, line)
		}
	}
	return out
}

// ComparisonCharts overlays every device on one chart per pollutant.
func ComparisonCharts(entries []airq.ComparisonEntry) []*charts.Line {
	out := make([]*charts.Line, 0, len(airq.Pollutants))
	for _, p := range airq.Pollutants {
		line := newLine(
			common.ElementID("comparison", p),
			pollutantLabels[p]+" comparison",
			fmt.Sprintf("%d devices", len(entries)),
		)

		first := true
		for _, e := range entries {
			data := make([]opts.LineData, 0, len(e.Records))
			for _, r := range e.Records {
				v, ok := r.Float(p)
				if !ok {
					continue
				}
				data = append(data, opts.LineData{Name: e.Label, Value: []interface{}{r.Datetime(), v}})
			}
			if len(data) == 0 {
				continue
			}
			seriesOpts := []charts.SeriesOpts{
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			}
			if first {
				seriesOpts = append(seriesOpts, guidelineOpts(p)...)
				first = false
			}
			line.AddSeries(e.Label, data, seriesOpts...)
		}
		out = append(out, line)
	}
	return out
}

// RenderPage renders lines as a single HTML page.
func RenderPage(title string, lines []*charts.Line) ([]byte, error) {
	page := components.NewPage()
	page.PageTitle = title
	page.SetLayout(components.PageFlexLayout)
	for _, l := range lines {
		page.AddCharts(l)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
