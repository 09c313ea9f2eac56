package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/airq-calibration/internal/airq"
)

type AppConfig struct {
	Port string

	// Calibration backend.
	BackendBaseURL    string
	HTTPTimeout       time.Duration
	BackendMaxRetries int

	// Period requested for every device.
	DataPeriod airq.DateRange

	// Stage 2 window search.
	Stage2WindowDays int
	Stage2Default    airq.DateRange

	// Devices shown by the dashboard, in display order.
	Devices []airq.Device

	// Location used to interpret naive timestamps and window dates.
	Location *time.Location

	// Device cache.
	CacheMaxAge          time.Duration // 0 = entries never expire
	CacheRefreshInterval time.Duration // 0 = no background refresh

	SessionTTL time.Duration // 0 = sessions never expire

	// Trained model set used for predictions.
	PredictionPeriod string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.BackendBaseURL = strings.TrimRight(getenvDefault("BACKEND_BASE_URL", "http://localhost:5000"), "/")
	cfg.BackendMaxRetries = getenvInt("BACKEND_MAX_RETRIES", 2)

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "120s"); err != nil {
		return nil, err
	}
	if cfg.CacheMaxAge, err = getenvDuration("CACHE_MAX_AGE", "0"); err != nil {
		return nil, err
	}
	if cfg.CacheRefreshInterval, err = getenvDuration("CACHE_REFRESH_INTERVAL", "0"); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getenvDuration("SESSION_TTL", "24h"); err != nil {
		return nil, err
	}

	cfg.Location, err = loadLocation(os.Getenv("AIRQ_TIMEZONE"))
	if err != nil {
		return nil, err
	}

	cfg.DataPeriod = airq.DateRange{
		Start: getenvDefault("DATA_START_DATE", "2023-01-01"),
		End:   getenvDefault("DATA_END_DATE", "2023-12-31"),
	}
	if _, _, err := airq.WindowBounds(cfg.DataPeriod.Start, cfg.DataPeriod.End, cfg.Location); err != nil {
		return nil, fmt.Errorf("invalid DATA_START_DATE/DATA_END_DATE: %w", err)
	}

	cfg.Stage2WindowDays = getenvInt("STAGE2_WINDOW_DAYS", 5)
	cfg.Stage2Default = airq.DateRange{
		Start: getenvDefault("STAGE2_DEFAULT_START", "2023-06-22"),
		End:   getenvDefault("STAGE2_DEFAULT_END", "2023-06-25"),
	}

	cfg.PredictionPeriod = getenvDefault("PREDICTION_PERIOD", "2025")

	cfg.Devices, err = LoadDevices(os.Getenv("AIRQ_DEVICES_FILE"))
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Settings converts the configuration into dashboard settings.
func (c *AppConfig) Settings() airq.Settings {
	return airq.Settings{
		Period:           c.DataPeriod,
		WindowDays:       c.Stage2WindowDays,
		Location:         c.Location,
		DefaultWindow:    c.Stage2Default,
		PredictionPeriod: c.PredictionPeriod,
	}
}

type deviceFile struct {
	Devices []airq.Device `yaml:"devices"`
}

// LoadDevices reads the device catalog from a YAML file. An empty path
// yields the built-in catalog.
func LoadDevices(path string) ([]airq.Device, error) {
	if path == "" {
		return airq.DefaultDevices(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}
	var f deviceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse devices file: %w", err)
	}
	if len(f.Devices) == 0 {
		return nil, fmt.Errorf("devices file %s lists no devices", path)
	}

	for i, d := range f.Devices {
		if d.Name == "" {
			return nil, fmt.Errorf("device #%d has no name", i+1)
		}
		switch d.Type {
		case "":
			f.Devices[i].Type = airq.DeviceSensor
		case airq.DeviceSensor, airq.DeviceReference:
		default:
			return nil, fmt.Errorf("device %s: unknown type %q", d.Name, d.Type)
		}
	}
	return f.Devices, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid AIRQ_TIMEZONE: %w", err)
	}
	return loc, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
