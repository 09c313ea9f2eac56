package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/i474232898/airq-calibration/internal/airq"
	"github.com/i474232898/airq-calibration/internal/common"
	"github.com/sony/gobreaker"
)

const (
	pathDeviceData    = "/api/load-device-data"
	pathReferenceData = "/api/load-rmcab-data"
	pathStage2Load    = "/api/stage2/load"
	pathCalibrate     = "/api/stage2/calibrate"
	pathDownload      = "/api/stage2/download"
	pathCalibrateOne  = "/api/calibrate-device"
	pathCalibrateMany = "/api/calibrate-multiple-devices"
	pathPredict       = "/api/predict-with-calibration"

	defaultExportName = "datos_stage2.xlsx"
)

// Options configure a Client.
type Options struct {
	BaseURL    string
	MaxRetries int
}

// Client implements airq.Backend over the calibration server's JSON API.
type Client struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ airq.Backend = (*Client)(nil)

func NewClient(client *http.Client, opts Options) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "calibration-backend",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
	})

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      opts.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

type datasetResponse struct {
	errorBody
	Data    []airq.Record  `json:"data"`
	Records int            `json:"records"`
	Meta    map[string]any `json:"meta"`
}

func (c *Client) LoadDeviceData(ctx context.Context, device string, period airq.DateRange) (airq.Dataset, error) {
	body := map[string]any{
		"device_name": device,
		"start_date":  period.Start,
		"end_date":    period.End,
	}
	return c.loadDataset(ctx, pathDeviceData, device, body)
}

func (c *Client) LoadReferenceData(ctx context.Context, station int, period airq.DateRange) (airq.Dataset, error) {
	body := map[string]any{
		"station_code": station,
		"start_date":   period.Start,
		"end_date":     period.End,
	}
	return c.loadDataset(ctx, pathReferenceData, fmt.Sprintf("station %d", station), body)
}

func (c *Client) loadDataset(ctx context.Context, path, name string, body any) (airq.Dataset, error) {
	var payload datasetResponse
	if err := c.postJSON(ctx, path, body, &payload); err != nil {
		return airq.Dataset{}, err
	}
	if err := checkEnvelope(payload.errorBody, "could not load data for "+name); err != nil {
		return airq.Dataset{}, err
	}

	records := payload.Data
	if records == nil {
		records = []airq.Record{}
	}
	count := payload.Records
	if count == 0 {
		count = len(records)
	}
	return airq.Dataset{
		Device:  name,
		Records: records,
		Count:   count,
		Meta:    payload.Meta,
	}, nil
}

func (c *Client) LoadStage2(ctx context.Context, req airq.Stage2Request) (airq.Stage2Payload, error) {
	var payload struct {
		errorBody
		Window        airq.Record   `json:"window"`
		Lowcost       []airq.Record `json:"lowcost"`
		Reference     []airq.Record `json:"rmcab"`
		FullLowcost   []airq.Record `json:"full_lowcost"`
		FullReference []airq.Record `json:"full_rmcab"`
	}
	if err := c.postJSON(ctx, pathStage2Load, req, &payload); err != nil {
		return airq.Stage2Payload{}, err
	}
	if err := checkEnvelope(payload.errorBody, "could not load the stage 2 window"); err != nil {
		return airq.Stage2Payload{}, err
	}
	return airq.Stage2Payload{
		Window:        payload.Window,
		Lowcost:       payload.Lowcost,
		Reference:     payload.Reference,
		FullLowcost:   payload.FullLowcost,
		FullReference: payload.FullReference,
		Query:         payload.Query,
	}, nil
}

func (c *Client) Calibrate(ctx context.Context, req airq.CalibrationRequest) (airq.CalibrationResult, error) {
	var payload struct {
		errorBody
		Devices []airq.Record `json:"devices"`
	}
	if err := c.postJSON(ctx, pathCalibrate, req, &payload); err != nil {
		return airq.CalibrationResult{}, err
	}
	if err := checkEnvelope(payload.errorBody, "calibration failed"); err != nil {
		return airq.CalibrationResult{}, err
	}
	if payload.Devices == nil {
		payload.Devices = []airq.Record{}
	}
	return airq.CalibrationResult{Devices: payload.Devices}, nil
}

func (c *Client) CalibrateDevice(ctx context.Context, req airq.DeviceCalibrationRequest) (airq.DeviceCalibration, error) {
	var payload struct {
		errorBody
		Device           string        `json:"device"`
		Pollutant        string        `json:"pollutant"`
		Results          []airq.Record `json:"results"`
		Scatter          airq.Record   `json:"scatter"`
		LinearRegression airq.Record   `json:"linear_regression"`
	}
	if err := c.postJSON(ctx, pathCalibrateOne, req, &payload); err != nil {
		return airq.DeviceCalibration{}, err
	}
	if err := checkEnvelope(payload.errorBody, "calibration failed"); err != nil {
		return airq.DeviceCalibration{}, err
	}
	if len(payload.Results) == 0 {
		return airq.DeviceCalibration{}, &APIError{Status: http.StatusOK, Message: "no calibration results to show"}
	}
	return airq.DeviceCalibration{
		Device:           payload.Device,
		Pollutant:        payload.Pollutant,
		Results:          payload.Results,
		Scatter:          payload.Scatter,
		LinearRegression: payload.LinearRegression,
	}, nil
}

// CalibrateSensors reports a success:false answer as a partial result when at
// least one device was calibrated.
func (c *Client) CalibrateSensors(ctx context.Context, req airq.SensorsCalibrationRequest) (airq.SensorsCalibration, error) {
	var payload struct {
		errorBody
		ResultsByDevice   map[string]airq.Record `json:"results_by_device"`
		DevicesCalibrated int                    `json:"devices_calibrated"`
		TotalDevices      int                    `json:"total_devices"`
	}
	if err := c.postJSON(ctx, pathCalibrateMany, req, &payload); err != nil {
		return airq.SensorsCalibration{}, err
	}

	res := airq.SensorsCalibration{
		ResultsByDevice:   payload.ResultsByDevice,
		DevicesCalibrated: payload.DevicesCalibrated,
		TotalDevices:      payload.TotalDevices,
	}
	if res.ResultsByDevice == nil {
		res.ResultsByDevice = map[string]airq.Record{}
	}
	if err := checkEnvelope(payload.errorBody, "calibration failed"); err != nil {
		ok := res.Succeeded()
		if len(ok) == 0 {
			return airq.SensorsCalibration{}, err
		}
		res.Partial = true
		res.Error = err.Error()
		res.DevicesCalibrated = len(ok)
	}
	return res, nil
}

func (c *Client) Predict(ctx context.Context, req airq.PredictionRequest) (airq.Prediction, error) {
	var raw airq.Record
	if err := c.postJSON(ctx, pathPredict, req, &raw); err != nil {
		return airq.Prediction{}, err
	}

	var eb errorBody
	eb.Error = raw.String("error")
	eb.Message = raw.String("message")
	eb.Query = raw.String("query")
	eb.Suggestion = raw.String("suggestion")
	if ok, present := raw["success"].(bool); present {
		eb.Success = &ok
	}
	if err := checkEnvelope(eb, "prediction failed"); err != nil {
		return airq.Prediction{}, err
	}

	return airq.Prediction{
		Device:    raw.String("device_name"),
		Pollutant: raw.String("pollutant"),
		Mode:      raw.String("mode"),
		Details:   raw,
	}, nil
}

func (c *Client) Download(ctx context.Context, req airq.DownloadRequest) (airq.Export, error) {
	resp, err := c.post(ctx, pathDownload, req)
	if err != nil {
		return airq.Export{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return airq.Export{}, fmt.Errorf("%w: reading export: %v", ErrUnavailable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if common.HasAny(contentType, "application/json") {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			if err := checkEnvelope(eb, "export failed"); err != nil {
				return airq.Export{}, err
			}
		}
	}
	if len(data) == 0 {
		return airq.Export{}, &APIError{Status: resp.StatusCode, Message: "the export is empty"}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return airq.Export{
		Filename:    exportFilename(resp.Header.Get("Content-Disposition")),
		ContentType: contentType,
		Body:        data,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	return doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// checkEnvelope turns success:false into an *APIError carrying the backend's
// message verbatim.
func checkEnvelope(eb errorBody, fallback string) error {
	if eb.Success == nil || *eb.Success {
		return nil
	}
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = fallback
	}
	return &APIError{Status: http.StatusOK, Message: msg, Query: eb.Query, Suggestion: eb.Suggestion}
}

func exportFilename(disposition string) string {
	if disposition == "" {
		return defaultExportName
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	return defaultExportName
}
