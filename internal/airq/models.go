package airq

import (
	"sort"
	"time"
)

// DeviceType distinguishes low-cost sensors from reference stations.
type DeviceType string

const (
	DeviceSensor    DeviceType = "sensor"
	DeviceReference DeviceType = "reference"
)

// Device is a catalog entry.
type Device struct {
	Name    string     `json:"name" yaml:"name"`
	Type    DeviceType `json:"type" yaml:"type"`
	Label   string     `json:"label" yaml:"label"`
	Station int        `json:"station,omitempty" yaml:"station"`
}

// DisplayLabel returns the label, falling back to the device name.
func (d Device) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// Catalog is the ordered set of devices shown by the dashboard.
type Catalog struct {
	devices []Device
	byName  map[string]Device
}

// NewCatalog indexes devices, keeping their order.
func NewCatalog(devices []Device) *Catalog {
	c := &Catalog{byName: make(map[string]Device, len(devices))}
	for _, d := range devices {
		if _, dup := c.byName[d.Name]; dup || d.Name == "" {
			continue
		}
		c.devices = append(c.devices, d)
		c.byName[d.Name] = d
	}
	return c
}

// DefaultDevices is the catalog used when no catalog file is configured.
func DefaultDevices() []Device {
	return []Device{
		{Name: "Aire2", Type: DeviceSensor, Label: "Sensor Aire2"},
		{Name: "Aire4", Type: DeviceSensor, Label: "Sensor Aire4"},
		{Name: "Aire5", Type: DeviceSensor, Label: "Sensor Aire5"},
		{Name: "RMCAB_LasFer", Type: DeviceReference, Label: "RMCAB Las Ferias", Station: 6},
	}
}

// Devices returns the devices in catalog order.
func (c *Catalog) Devices() []Device {
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Lookup returns a device by name.
func (c *Catalog) Lookup(name string) (Device, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Labels maps device names to display labels.
func (c *Catalog) Labels() map[string]string {
	out := make(map[string]string, len(c.devices))
	for _, d := range c.devices {
		out[d.Name] = d.DisplayLabel()
	}
	return out
}

// Reference returns the first reference station of the catalog.
func (c *Catalog) Reference() (Device, bool) {
	for _, d := range c.devices {
		if d.Type == DeviceReference {
			return d, true
		}
	}
	return Device{}, false
}

// Sensors returns the low-cost devices in catalog order.
func (c *Catalog) Sensors() []Device {
	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		if d.Type == DeviceSensor {
			out = append(out, d)
		}
	}
	return out
}

// DateRange is the period requested from the backend.
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// Dataset is one device's series as returned by the backend.
type Dataset struct {
	Device  string         `json:"device"`
	Records []Record       `json:"records"`
	Count   int            `json:"count"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// CacheEntry is a cached dataset with the generation that produced it.
type CacheEntry struct {
	Dataset    Dataset   `json:"dataset"`
	FetchedAt  time.Time `json:"fetched_at"`
	Generation uint64    `json:"generation"`
}

// Stage2Request asks the backend for the optimal window.
type Stage2Request struct {
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	StationCode int      `json:"station_code"`
	WindowDays  int      `json:"window_days"`
	Devices     []string `json:"devices,omitempty"`
}

// Stage2Payload is the backend's optimal window plus the full series.
type Stage2Payload struct {
	Window        Record   `json:"window"`
	Lowcost       []Record `json:"lowcost"`
	Reference     []Record `json:"rmcab"`
	FullLowcost   []Record `json:"full_lowcost"`
	FullReference []Record `json:"full_rmcab"`
	Query         string   `json:"query,omitempty"`
}

// CalibrationRequest runs calibration over a window.
type CalibrationRequest struct {
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	WindowStart string   `json:"window_start"`
	WindowEnd   string   `json:"window_end"`
	Devices     []string `json:"devices"`
	Pollutants  []string `json:"pollutants"`
	StationCode int      `json:"station_code"`
}

// CalibrationResult holds the per-device results returned by the backend.
type CalibrationResult struct {
	Devices []Record `json:"devices"`
}

// DeviceCalibrationRequest trains the calibration models for one sensor over
// the whole data period.
type DeviceCalibrationRequest struct {
	DeviceName string `json:"device_name"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Pollutant  string `json:"pollutant"`
}

// DeviceCalibration compares the models trained for one sensor. Results are
// ranked by the backend, best model first.
type DeviceCalibration struct {
	Device           string   `json:"device"`
	Pollutant        string   `json:"pollutant"`
	Results          []Record `json:"results"`
	Scatter          Record   `json:"scatter,omitempty"`
	LinearRegression Record   `json:"linear_regression,omitempty"`
}

// BestModel returns the name of the top-ranked model.
func (d DeviceCalibration) BestModel() string {
	if len(d.Results) == 0 {
		return ""
	}
	return d.Results[0].String("model_name")
}

// SensorsCalibrationRequest calibrates several sensors for every pollutant.
type SensorsCalibrationRequest struct {
	Devices    []string `json:"devices"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	Pollutants []string `json:"pollutants"`
}

// SensorsCalibration holds the per-device outcome of a multi-sensor
// calibration. Partial is set when only some devices succeeded.
type SensorsCalibration struct {
	ResultsByDevice   map[string]Record `json:"results_by_device"`
	DevicesCalibrated int               `json:"devices_calibrated"`
	TotalDevices      int               `json:"total_devices"`
	Partial           bool              `json:"partial"`
	Error             string            `json:"error,omitempty"`
}

// Succeeded lists, sorted, the devices whose calibration succeeded.
func (r SensorsCalibration) Succeeded() []string {
	var out []string
	for name, res := range r.ResultsByDevice {
		if ok, _ := res["success"].(bool); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ManualReadings replace the sensor's own readings when the backend has no
// data for the target date.
type ManualReadings struct {
	PM          float64 `json:"pm"`
	Temperature float64 `json:"temperature"`
	RH          float64 `json:"rh"`
}

// PredictionRequest asks for a calibrated prediction on a target date.
type PredictionRequest struct {
	DeviceName   string             `json:"device_name"`
	Pollutant    string             `json:"pollutant"`
	TargetDate   string             `json:"target_date"`
	Period       string             `json:"period"`
	StationCode  int                `json:"station_code"`
	ManualValues map[string]float64 `json:"manual_values,omitempty"`
}

// Prediction is a calibrated prediction. Details carries the backend's
// statistics and series as returned.
type Prediction struct {
	Device    string `json:"device_name"`
	Pollutant string `json:"pollutant"`
	Mode      string `json:"mode"`
	Details   Record `json:"details"`
}

// DownloadRequest exports a window as a spreadsheet.
type DownloadRequest struct {
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	WindowStart string   `json:"window_start"`
	WindowEnd   string   `json:"window_end"`
	Devices     []string `json:"devices"`
	StationCode int      `json:"station_code"`
}

// Export is a downloaded file.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Pollutants calibrated by the Stage 2 view.
var Pollutants = []string{FieldPM25, FieldPM10}

// Guideline is an air-quality limit drawn on charts.
type Guideline struct {
	Name      string
	Pollutant string
	Value     float64
}

// Guidelines are the WHO and Colombian 24h limits in µg/m³.
var Guidelines = []Guideline{
	{Name: "WHO PM2.5 (15)", Pollutant: FieldPM25, Value: 15},
	{Name: "Colombia PM2.5 (25)", Pollutant: FieldPM25, Value: 25},
	{Name: "WHO PM10 (45)", Pollutant: FieldPM10, Value: 45},
	{Name: "Colombia PM10 (50)", Pollutant: FieldPM10, Value: 50},
}
