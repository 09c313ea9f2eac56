package airq

import (
	"context"
)

// Backend abstracts the calibration server that owns data loading,
// optimal-window search and model training.
type Backend interface {
	LoadDeviceData(ctx context.Context, device string, period DateRange) (Dataset, error)
	LoadReferenceData(ctx context.Context, station int, period DateRange) (Dataset, error)
	LoadStage2(ctx context.Context, req Stage2Request) (Stage2Payload, error)
	Calibrate(ctx context.Context, req CalibrationRequest) (CalibrationResult, error)
	Download(ctx context.Context, req DownloadRequest) (Export, error)
	CalibrateDevice(ctx context.Context, req DeviceCalibrationRequest) (DeviceCalibration, error)
	CalibrateSensors(ctx context.Context, req SensorsCalibrationRequest) (SensorsCalibration, error)
	Predict(ctx context.Context, req PredictionRequest) (Prediction, error)
}

// Cache is the contract of the per-device dataset cache. Begin hands out a
// request generation; Commit stores an entry only if its generation is newer
// than the one already stored.
type Cache interface {
	Begin(device string) uint64
	Commit(device string, generation uint64, entry CacheEntry) bool
	Get(device string) (CacheEntry, error)
	Invalidate(device string)
}
