package airq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ViewMode is the dashboard view currently shown by a session.
type ViewMode int

const (
	ViewIdle ViewMode = iota
	ViewSingle
	ViewComparison
	ViewStage2
)

var viewNames = map[ViewMode]string{
	ViewIdle:       "idle",
	ViewSingle:     "single",
	ViewComparison: "comparison",
	ViewStage2:     "stage2",
}

func (v ViewMode) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return "unknown"
}

func (v ViewMode) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// viewTransitions lists the views reachable from each view. Nothing leads
// back to idle.
var viewTransitions = map[ViewMode][]ViewMode{
	ViewIdle:       {ViewSingle, ViewComparison, ViewStage2},
	ViewSingle:     {ViewSingle, ViewComparison, ViewStage2},
	ViewComparison: {ViewSingle, ViewComparison, ViewStage2},
	ViewStage2:     {ViewSingle, ViewComparison, ViewStage2},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ViewMode) bool {
	for _, next := range viewTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WindowState tracks where the Stage 2 window came from.
type WindowState int

const (
	WindowNone WindowState = iota
	WindowAuto
	WindowManual
)

func (w WindowState) String() string {
	switch w {
	case WindowAuto:
		return "auto"
	case WindowManual:
		return "manual"
	default:
		return "none"
	}
}

func (w WindowState) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// Notice is a user-facing message attached to a view.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SingleView is the single-sensor view.
type SingleView struct {
	Device  Device        `json:"device"`
	Count   int           `json:"count"`
	Metrics SeriesMetrics `json:"metrics"`
	Records []Record      `json:"records"`
}

// ComparisonEntry is one device of the comparison view.
type ComparisonEntry struct {
	Device    string   `json:"device"`
	Label     string   `json:"label"`
	PM25Count int      `json:"pm25_count"`
	PM10Count int      `json:"pm10_count"`
	Records   []Record `json:"records"`
}

// Stage2View is the Stage 2 window view.
type Stage2View struct {
	Mode          ViewMode        `json:"mode"`
	WindowState   WindowState     `json:"window_state"`
	Window        *WindowSummary  `json:"window"`
	Aligned       []AlignedRecord `json:"lowcost"`
	Reference     []Record        `json:"rmcab"`
	BackendWindow Record          `json:"auto_window,omitempty"`
	Notice        *Notice         `json:"notice,omitempty"`
}

// DeviceTraces groups the chart series of one device.
type DeviceTraces struct {
	Device string   `json:"device"`
	Label  string   `json:"label"`
	Traces []*Trace `json:"traces"`
}

type windowSnapshot struct {
	state  WindowState
	result WindowResult
}

// Session holds the view state of one dashboard client.
type Session struct {
	ID        string
	CreatedAt time.Time

	svc *Service

	mu            sync.Mutex
	view          ViewMode
	selected      string
	comparison    []ComparisonEntry
	current       *windowSnapshot
	auto          *windowSnapshot
	backendWindow Record
	fullLowcost   []Record
	fullReference []Record
	stage2Gen     uint64
}

func newSession(svc *Service) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		svc:       svc,
		view:      ViewIdle,
	}
}

// View returns the current view mode.
func (s *Session) View() ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) transition(to ViewMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.view, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.view, to)
	}
	s.view = to
	return nil
}

// ShowSingle loads one device and switches to the single-sensor view.
func (s *Session) ShowSingle(ctx context.Context, name string, refresh bool) (SingleView, error) {
	entry, err := s.svc.DeviceData(ctx, name, refresh)
	if err != nil {
		return SingleView{}, err
	}
	if err := s.transition(ViewSingle); err != nil {
		return SingleView{}, err
	}

	s.mu.Lock()
	s.selected = name
	s.mu.Unlock()

	device, _ := s.svc.catalog.Lookup(name)
	return SingleView{
		Device:  device,
		Count:   entry.Dataset.Count,
		Metrics: ComputeMetrics(entry.Dataset.Records),
		Records: entry.Dataset.Records,
	}, nil
}

// ShowComparison loads every catalog device and switches to the comparison view.
func (s *Session) ShowComparison(ctx context.Context) ([]ComparisonEntry, error) {
	datasets := s.svc.LoadAll(ctx, false)
	if err := s.transition(ViewComparison); err != nil {
		return nil, err
	}

	out := make([]ComparisonEntry, 0, len(datasets))
	for _, d := range s.svc.catalog.Devices() {
		ds := datasets[d.Name]
		m := ComputeMetrics(ds.Records)
		out = append(out, ComparisonEntry{
			Device:    d.Name,
			Label:     d.DisplayLabel(),
			PM25Count: m.PM25Count,
			PM10Count: m.PM10Count,
			Records:   ds.Records,
		})
	}

	s.mu.Lock()
	s.comparison = out
	s.mu.Unlock()
	return out, nil
}

// Comparison returns the entries of the last comparison view.
func (s *Session) Comparison() ([]ComparisonEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.comparison == nil {
		return nil, inputError("load the comparison view first")
	}
	return s.comparison, nil
}

// CalibrateDevice trains the calibration models for the sensor shown in the
// single-sensor view.
func (s *Session) CalibrateDevice(ctx context.Context, pollutant string) (DeviceCalibration, error) {
	s.mu.Lock()
	view, name := s.view, s.selected
	s.mu.Unlock()

	if view != ViewSingle || name == "" {
		return DeviceCalibration{}, inputError("load a device's data first")
	}
	return s.svc.CalibrateDevice(ctx, name, pollutant)
}

// ShowStage2 switches to the Stage 2 view. The current window is reused
// unless reload is set; otherwise the backend's optimal window is fetched
// and the configured default range, then the automatic range, is applied.
func (s *Session) ShowStage2(ctx context.Context, reload bool) (Stage2View, error) {
	if err := s.transition(ViewStage2); err != nil {
		return Stage2View{}, err
	}

	s.mu.Lock()
	if !reload && s.current != nil && len(s.current.result.Aligned) > 0 {
		view := s.viewLocked(nil)
		s.mu.Unlock()
		return view, nil
	}
	s.stage2Gen++
	gen := s.stage2Gen
	if reload {
		s.resetStage2Locked()
	}
	s.mu.Unlock()

	payload, err := s.svc.LoadStage2(ctx, nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.stage2Gen {
		log.Printf("DEBUG: session %s: dropping stage 2 load %d, newer load %d started", s.ID, gen, s.stage2Gen)
		return Stage2View{}, ErrSuperseded
	}
	if err != nil {
		s.resetStage2Locked()
		return s.viewLocked(&Notice{Level: "danger", Message: err.Error()}), err
	}

	s.backendWindow = payload.Window
	s.fullLowcost = payload.FullLowcost
	s.fullReference = payload.FullReference
	s.current = nil
	s.auto = nil

	opts := s.windowOptionsLocked()
	if start, end := autoDates(payload.Window); start != "" {
		if res, err := ComputeWindow(start, end, s.fullLowcost, s.fullReference, opts...); err == nil {
			s.auto = &windowSnapshot{state: WindowAuto, result: res}
		} else {
			log.Printf("DEBUG: session %s: automatic window %s..%s unusable: %v", s.ID, start, end, err)
		}
	}

	def := s.svc.settings.DefaultWindow
	if def.Start != "" && def.End != "" {
		if res, err := ComputeWindow(def.Start, def.End, s.fullLowcost, s.fullReference, opts...); err == nil {
			s.current = &windowSnapshot{state: WindowManual, result: res}
			return s.viewLocked(&Notice{
				Level:   "success",
				Message: fmt.Sprintf("Manual window applied (%s to %s).", def.Start, def.End),
			}), nil
		}
	}

	if s.auto != nil {
		s.current = s.auto
		return s.viewLocked(&Notice{Level: "success", Message: "Automatic window identified."}), nil
	}

	return s.viewLocked(&Notice{
		Level:   "warning",
		Message: "No data found in the selected window. Adjust the dates manually.",
	}), ErrNoWindowData
}

// ApplyManualWindow recomputes the window over the cached full series. On
// failure the last valid window stays in place.
func (s *Session) ApplyManualWindow(start, end string) (Stage2View, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	s.mu.Lock()
	defer s.mu.Unlock()

	if start == "" || end == "" {
		return s.viewLocked(nil), inputError("select a start and an end date before applying the window")
	}
	if _, _, err := WindowBounds(start, end, s.svc.settings.Location); err != nil {
		if errors.Is(err, ErrReversedWindow) {
			return s.viewLocked(nil), inputError("the end date must not precede the start date")
		}
		return s.viewLocked(nil), inputError("dates must use the YYYY-MM-DD format (%v)", err)
	}
	if len(s.fullLowcost) == 0 {
		return s.viewLocked(nil), inputError("load the stage 2 window before applying a manual range")
	}

	res, err := ComputeWindow(start, end, s.fullLowcost, s.fullReference, s.windowOptionsLocked()...)
	if err != nil {
		if s.current == nil && s.auto != nil {
			s.current = s.auto
		}
		return s.viewLocked(&Notice{
			Level:   "warning",
			Message: "No data available for the selected window.",
		}), err
	}

	s.current = &windowSnapshot{state: WindowManual, result: res}
	return s.viewLocked(&Notice{
		Level:   "success",
		Message: fmt.Sprintf("Window applied (%s to %s).", start, end),
	}), nil
}

// Stage2 returns the current Stage 2 state without changing it.
func (s *Session) Stage2() Stage2View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(nil)
}

// Calibrate runs the backend calibration over the current window.
func (s *Session) Calibrate(ctx context.Context) (CalibrationResult, error) {
	window, devices, err := s.calibrationTarget()
	if err != nil {
		return CalibrationResult{}, err
	}
	return s.svc.Calibrate(ctx, window, devices)
}

// Download exports the current window.
func (s *Session) Download(ctx context.Context) (Export, error) {
	window, devices, err := s.calibrationTarget()
	if err != nil {
		return Export{}, err
	}
	return s.svc.Download(ctx, window, devices)
}

func (s *Session) calibrationTarget() (WindowSummary, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return WindowSummary{}, nil, inputError("compute the stage 2 window before calibrating")
	}
	if len(s.current.result.Aligned) == 0 {
		return WindowSummary{}, nil, inputError("no data available in the selected window")
	}
	devices := s.current.result.Window.DevicesWithData(1)
	if len(devices) == 0 {
		return WindowSummary{}, nil, inputError("no device has enough data in the selected window")
	}
	return s.current.result.Window, devices, nil
}

// Traces builds the per-device PM2.5/PM10 series of the current window, in
// catalog order, plus the reference series.
func (s *Session) Traces() ([]DeviceTraces, []*Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, nil
	}

	byDevice := make(map[string][]AlignedRecord)
	for _, rec := range s.current.result.Aligned {
		byDevice[rec.DeviceName] = append(byDevice[rec.DeviceName], rec)
	}

	out := make([]DeviceTraces, 0, len(byDevice))
	emit := func(name, label string) {
		records := byDevice[name]
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].ReferenceTime.Before(records[j].ReferenceTime)
		})
		dt := DeviceTraces{Device: name, Label: label}
		if t := PollutantTrace(records, FieldPM25Sensor, "PM2.5"); t != nil {
			dt.Traces = append(dt.Traces, t)
		} else if t := PollutantTrace(records, FieldPM25, "PM2.5"); t != nil {
			dt.Traces = append(dt.Traces, t)
		}
		if t := PollutantTrace(records, FieldPM10Sensor, "PM10"); t != nil {
			dt.Traces = append(dt.Traces, t)
		} else if t := PollutantTrace(records, FieldPM10, "PM10"); t != nil {
			dt.Traces = append(dt.Traces, t)
		}
		out = append(out, dt)
		delete(byDevice, name)
	}

	for _, d := range s.svc.catalog.Sensors() {
		if _, ok := byDevice[d.Name]; ok {
			emit(d.Name, d.DisplayLabel())
		}
	}
	rest := make([]string, 0, len(byDevice))
	for name := range byDevice {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		emit(name, name)
	}

	reference := make([]*Trace, 0, 2)
	for _, p := range Pollutants {
		if t := ReferenceTrace(s.current.result.Reference, p, "Reference "+strings.ToUpper(p)); t != nil {
			reference = append(reference, t)
		}
	}
	return out, reference
}

func (s *Session) resetStage2Locked() {
	s.current = nil
	s.auto = nil
	s.backendWindow = nil
	s.fullLowcost = nil
	s.fullReference = nil
}

func (s *Session) windowOptionsLocked() []WindowOption {
	opts := []WindowOption{
		WithLabels(s.svc.catalog.Labels()),
		WithLocation(s.svc.settings.Location),
	}
	if s.backendWindow != nil {
		if station, ok := s.backendWindow["station"]; ok && station != nil {
			opts = append(opts, WithStation(station))
		}
	}
	return opts
}

func (s *Session) viewLocked(notice *Notice) Stage2View {
	view := Stage2View{
		Mode:          s.view,
		WindowState:   WindowNone,
		Aligned:       []AlignedRecord{},
		Reference:     []Record{},
		BackendWindow: s.backendWindow,
		Notice:        notice,
	}
	if s.current != nil {
		w := s.current.result.Window
		view.WindowState = s.current.state
		view.Window = &w
		view.Aligned = s.current.result.Aligned
		view.Reference = s.current.result.Reference
	}
	return view
}

// autoDates extracts the calendar dates of the backend's window.
func autoDates(window Record) (string, string) {
	if window == nil {
		return "", ""
	}
	start := window.String("start")
	if start == "" {
		start = window.String("start_date")
	}
	end := window.String("end")
	if end == "" {
		end = window.String("end_date")
	}
	if len(start) < len(dateLayout) {
		return "", ""
	}
	start = start[:len(dateLayout)]
	if len(end) >= len(dateLayout) {
		end = end[:len(dateLayout)]
	} else {
		end = start
	}
	return start, end
}

// Sessions is the registry of live dashboard sessions.
type Sessions struct {
	svc   *Service
	mu    sync.RWMutex
	items map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions(svc *Service) *Sessions {
	return &Sessions{svc: svc, items: make(map[string]*Session)}
}

// Create opens a new session.
func (r *Sessions) Create() *Session {
	s := newSession(r.svc)
	r.mu.Lock()
	r.items[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns a session by id.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete closes a session.
func (r *Sessions) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.items, id)
	return nil
}

// Expire removes sessions created before cutoff and returns how many were removed.
func (r *Sessions) Expire(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.items {
		if s.CreatedAt.Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n
}
