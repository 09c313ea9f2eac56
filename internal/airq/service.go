package airq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

const defaultStation = 6

// Settings are the fixed parameters of the dashboard.
type Settings struct {
	Period     DateRange
	WindowDays int
	Location   *time.Location
	// DefaultWindow is tried before the automatic window when Stage 2 loads.
	DefaultWindow DateRange
	// PredictionPeriod names the trained model set used for predictions.
	PredictionPeriod string
}

// Service orchestrates the backend, the device cache and the catalog.
type Service struct {
	backend  Backend
	cache    Cache
	catalog  *Catalog
	settings Settings
}

// NewService creates a new Service.
func NewService(backend Backend, cache Cache, catalog *Catalog, settings Settings) *Service {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	if settings.WindowDays <= 0 {
		settings.WindowDays = 5
	}
	if settings.PredictionPeriod == "" && len(settings.Period.End) >= 4 {
		settings.PredictionPeriod = settings.Period.End[:4]
	}
	return &Service{
		backend:  backend,
		cache:    cache,
		catalog:  catalog,
		settings: settings,
	}
}

// Catalog returns the device catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Settings returns the dashboard settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// DeviceData returns the device's dataset from the cache, fetching it when
// missing or when forceRefresh is set.
func (s *Service) DeviceData(ctx context.Context, name string, forceRefresh bool) (CacheEntry, error) {
	if name == "" {
		return CacheEntry{}, inputError("no device selected")
	}
	device, ok := s.catalog.Lookup(name)
	if !ok {
		return CacheEntry{}, inputError("device not configured: %s", name)
	}

	if !forceRefresh {
		if entry, err := s.cache.Get(name); err == nil {
			return entry, nil
		}
	}
	return s.fetch(ctx, device)
}

func (s *Service) fetch(ctx context.Context, device Device) (CacheEntry, error) {
	gen := s.cache.Begin(device.Name)

	var (
		ds  Dataset
		err error
	)
	switch device.Type {
	case DeviceReference:
		ds, err = s.backend.LoadReferenceData(ctx, stationOf(device), s.settings.Period)
	default:
		ds, err = s.backend.LoadDeviceData(ctx, device.Name, s.settings.Period)
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("load %s: %w", device.Name, err)
	}

	ds.Device = device.Name
	ds.Records = NormalizeDataset(ds.Records)
	if ds.Count == 0 {
		ds.Count = len(ds.Records)
	}

	entry := CacheEntry{
		Dataset:    ds,
		FetchedAt:  time.Now().UTC(),
		Generation: gen,
	}
	if !s.cache.Commit(device.Name, gen, entry) {
		log.Printf("DEBUG: discarding stale dataset for %s (generation %d)", device.Name, gen)
		if current, err := s.cache.Get(device.Name); err == nil {
			return current, nil
		}
	}
	return entry, nil
}

// LoadAll loads every catalog device concurrently. A device that fails to
// load yields an empty dataset so the comparison view can still render.
func (s *Service) LoadAll(ctx context.Context, forceRefresh bool) map[string]Dataset {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]Dataset)
	)

	for _, d := range s.catalog.Devices() {
		wg.Add(1)
		go func(d Device) {
			defer wg.Done()

			entry, err := s.DeviceData(ctx, d.Name, forceRefresh)
			ds := entry.Dataset
			if err != nil {
				log.Printf("ERROR: loading %s failed: %v", d.Name, err)
				ds = Dataset{Device: d.Name, Records: []Record{}}
			}

			mu.Lock()
			out[d.Name] = ds
			mu.Unlock()
		}(d)
	}

	wg.Wait()
	return out
}

// RefreshAll refetches every catalog device into the cache. It fails only if
// no device could be refreshed.
func (s *Service) RefreshAll(ctx context.Context) error {
	devices := s.catalog.Devices()
	if len(devices) == 0 {
		return fmt.Errorf("no devices configured")
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, d := range devices {
		wg.Add(1)
		go func(d Device) {
			defer wg.Done()
			if _, err := s.fetch(ctx, d); err != nil {
				log.Printf("refresh of %s failed: %v", d.Name, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()

	if failed == len(devices) {
		return fmt.Errorf("no device could be refreshed")
	}
	return nil
}

// LoadStage2 asks the backend for the optimal window and the full series.
func (s *Service) LoadStage2(ctx context.Context, devices []string) (Stage2Payload, error) {
	req := Stage2Request{
		StartDate:   s.settings.Period.Start,
		EndDate:     s.settings.Period.End,
		StationCode: s.station(),
		WindowDays:  s.settings.WindowDays,
		Devices:     devices,
	}
	payload, err := s.backend.LoadStage2(ctx, req)
	if err != nil {
		return Stage2Payload{}, fmt.Errorf("load stage 2: %w", err)
	}
	if len(payload.FullLowcost) == 0 {
		payload.FullLowcost = payload.Lowcost
	}
	if len(payload.FullReference) == 0 {
		payload.FullReference = payload.Reference
	}
	return payload, nil
}

// Calibrate runs the backend calibration over a window.
func (s *Service) Calibrate(ctx context.Context, window WindowSummary, devices []string) (CalibrationResult, error) {
	req := CalibrationRequest{
		StartDate:   s.settings.Period.Start,
		EndDate:     s.settings.Period.End,
		WindowStart: window.Start.UTC().Format(time.RFC3339),
		WindowEnd:   window.End.UTC().Format(time.RFC3339),
		Devices:     devices,
		Pollutants:  Pollutants,
		StationCode: s.station(),
	}
	res, err := s.backend.Calibrate(ctx, req)
	if err != nil {
		return CalibrationResult{}, fmt.Errorf("calibrate: %w", err)
	}
	return res, nil
}

// Download exports a window from the backend.
func (s *Service) Download(ctx context.Context, window WindowSummary, devices []string) (Export, error) {
	req := DownloadRequest{
		StartDate:   s.settings.Period.Start,
		EndDate:     s.settings.Period.End,
		WindowStart: window.Start.UTC().Format(time.RFC3339),
		WindowEnd:   window.End.UTC().Format(time.RFC3339),
		Devices:     devices,
		StationCode: s.station(),
	}
	exp, err := s.backend.Download(ctx, req)
	if err != nil {
		return Export{}, fmt.Errorf("download: %w", err)
	}
	return exp, nil
}

// CalibrateDevice trains the calibration models for one sensor over the data
// period. An empty pollutant means PM2.5.
func (s *Service) CalibrateDevice(ctx context.Context, name, pollutant string) (DeviceCalibration, error) {
	device, err := s.sensor(name)
	if err != nil {
		return DeviceCalibration{}, err
	}
	if pollutant == "" {
		pollutant = FieldPM25
	}
	if !isPollutant(pollutant) {
		return DeviceCalibration{}, inputError("unknown pollutant: %s", pollutant)
	}

	res, err := s.backend.CalibrateDevice(ctx, DeviceCalibrationRequest{
		DeviceName: device.Name,
		StartDate:  s.settings.Period.Start,
		EndDate:    s.settings.Period.End,
		Pollutant:  pollutant,
	})
	if err != nil {
		return DeviceCalibration{}, fmt.Errorf("calibrate %s: %w", device.Name, err)
	}
	if res.Device == "" {
		res.Device = device.Name
	}
	if res.Pollutant == "" {
		res.Pollutant = pollutant
	}
	log.Printf("INFO: calibrated %s (%s), best model %q", device.Name, pollutant, res.BestModel())
	return res, nil
}

// CalibrateSensors calibrates every catalog sensor for PM2.5 and PM10. A
// partial success is returned as a result, not an error.
func (s *Service) CalibrateSensors(ctx context.Context) (SensorsCalibration, error) {
	var names []string
	for _, d := range s.catalog.Sensors() {
		names = append(names, d.Name)
	}
	if len(names) == 0 {
		return SensorsCalibration{}, inputError("no sensors configured")
	}

	res, err := s.backend.CalibrateSensors(ctx, SensorsCalibrationRequest{
		Devices:    names,
		StartDate:  s.settings.Period.Start,
		EndDate:    s.settings.Period.End,
		Pollutants: Pollutants,
	})
	if err != nil {
		return SensorsCalibration{}, fmt.Errorf("calibrate sensors: %w", err)
	}
	if res.TotalDevices == 0 {
		res.TotalDevices = len(names)
	}
	if res.DevicesCalibrated == 0 {
		res.DevicesCalibrated = len(res.Succeeded())
	}
	if res.Partial {
		log.Printf("INFO: partial calibration: %d/%d sensors", res.DevicesCalibrated, res.TotalDevices)
	}
	return res, nil
}

// PredictionInput selects what to predict. Manual, when set, replaces the
// sensor readings the backend would otherwise look up.
type PredictionInput struct {
	Device     string
	Pollutant  string
	TargetDate string
	Manual     *ManualReadings
}

// Predict asks the backend for a calibrated prediction. ErrManualInputRequired
// means the backend has no readings for the date and Manual must be filled.
func (s *Service) Predict(ctx context.Context, in PredictionInput) (Prediction, error) {
	device, err := s.sensor(in.Device)
	if err != nil {
		return Prediction{}, err
	}
	if !isPollutant(in.Pollutant) {
		return Prediction{}, inputError("unknown pollutant: %q", in.Pollutant)
	}
	if _, err := time.Parse(dateLayout, in.TargetDate); err != nil {
		return Prediction{}, inputError("select a target date (YYYY-MM-DD)")
	}

	req := PredictionRequest{
		DeviceName:  device.Name,
		Pollutant:   in.Pollutant,
		TargetDate:  in.TargetDate,
		Period:      s.settings.PredictionPeriod,
		StationCode: s.station(),
	}
	if m := in.Manual; m != nil {
		for _, v := range []float64{m.PM, m.Temperature, m.RH} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Prediction{}, inputError("manual readings must be numbers")
			}
		}
		req.ManualValues = map[string]float64{
			in.Pollutant + "_sensor": m.PM,
			"temperature":            m.Temperature,
			"rh":                     m.RH,
		}
	}

	res, err := s.backend.Predict(ctx, req)
	if err != nil {
		if errors.Is(err, ErrManualInputRequired) {
			log.Printf("INFO: no readings for %s on %s; manual input needed", device.Name, in.TargetDate)
		}
		return Prediction{}, fmt.Errorf("predict %s: %w", device.Name, err)
	}
	if res.Device == "" {
		res.Device = device.Name
	}
	if res.Pollutant == "" {
		res.Pollutant = in.Pollutant
	}
	if res.Mode == "" {
		res.Mode = "real_data"
		if in.Manual != nil {
			res.Mode = "manual"
		}
	}
	return res, nil
}

func (s *Service) sensor(name string) (Device, error) {
	if name == "" {
		return Device{}, inputError("no device selected")
	}
	device, ok := s.catalog.Lookup(name)
	if !ok {
		return Device{}, inputError("device not configured: %s", name)
	}
	if device.Type != DeviceSensor {
		return Device{}, inputError("only low-cost sensors can be calibrated")
	}
	return device, nil
}

func isPollutant(p string) bool {
	for _, known := range Pollutants {
		if p == known {
			return true
		}
	}
	return false
}

func (s *Service) station() int {
	if ref, ok := s.catalog.Reference(); ok {
		return stationOf(ref)
	}
	return defaultStation
}

func stationOf(d Device) int {
	if d.Station > 0 {
		return d.Station
	}
	return defaultStation
}
