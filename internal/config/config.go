package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHECKOUT_ADDR.
const EnvPrefix = "CHECKOUT_"

// Detector backends.
const (
	BackendSubprocess = "subprocess"
	BackendHTTP       = "http"
)

// Config holds the checkout server configuration.
type Config struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	CatalogPath string `yaml:"catalog_path"`
	AliasesPath string `yaml:"aliases_path"`
	StaticDir   string `yaml:"static_dir"`
	ReceiptsDB  string `yaml:"receipts_db"`

	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Debounce DebounceConfig `yaml:"debounce"`
	Log      LogConfig      `yaml:"log"`
}

// CameraConfig configures the frame source.
type CameraConfig struct {
	Index        int           `yaml:"index"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	OpenAttempts int           `yaml:"open_attempts"`
	OpenBackoff  time.Duration `yaml:"open_backoff"`
	ReplayDir    string        `yaml:"replay_dir"` // serve images from a directory instead of a webcam
}

// DetectorConfig configures the external model.
type DetectorConfig struct {
	Backend    string        `yaml:"backend"`
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"`
	URL        string        `yaml:"url"`
	Confidence float64       `yaml:"confidence"`
	ImageSize  int           `yaml:"image_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PipelineConfig configures frame delivery and inference scheduling.
type PipelineConfig struct {
	TargetFPS         int           `yaml:"target_fps"`
	InferenceEvery    int           `yaml:"inference_every"`
	StopGrace         time.Duration `yaml:"stop_grace"`
	Watchdog          time.Duration `yaml:"watchdog"`
	NoDetectionBanner time.Duration `yaml:"no_detection_banner"`
	JPEGQuality       int           `yaml:"jpeg_quality"`
}

// DebounceConfig configures the novelty filter.
type DebounceConfig struct {
	LabelWindow time.Duration `yaml:"label_window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the stock trolley settings: 4 fps, inference every
// third frame, 2s label window and 5s cooldown.
func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:5000",
		MetricsAddr: "",
		CatalogPath: "config/products.json",
		StaticDir:   "web/static",
		Camera: CameraConfig{
			Index:        0,
			OpenAttempts: 3,
			OpenBackoff:  300 * time.Millisecond,
		},
		Detector: DetectorConfig{
			Backend:    BackendSubprocess,
			Command:    "models/run_detector.sh",
			URL:        "http://localhost:8500",
			Confidence: 0.5,
			ImageSize:  512,
			Timeout:    5 * time.Second,
		},
		Pipeline: PipelineConfig{
			TargetFPS:         4,
			InferenceEvery:    3,
			StopGrace:         time.Second,
			Watchdog:          30 * time.Second,
			NoDetectionBanner: 10 * time.Second,
			JPEGQuality:       80,
		},
		Debounce: DebounceConfig{
			LabelWindow: 2 * time.Second,
			Cooldown:    5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load builds a config from defaults, an optional YAML file and CHECKOUT_* variables.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Addr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("CATALOG", &c.CatalogPath)
	str("ALIASES", &c.AliasesPath)
	str("STATIC_DIR", &c.StaticDir)
	str("RECEIPTS_DB", &c.ReceiptsDB)
	num("CAMERA_INDEX", &c.Camera.Index)
	str("CAMERA_REPLAY_DIR", &c.Camera.ReplayDir)
	str("DETECTOR_BACKEND", &c.Detector.Backend)
	str("DETECTOR_COMMAND", &c.Detector.Command)
	str("DETECTOR_URL", &c.Detector.URL)
	dur("DETECTOR_TIMEOUT", &c.Detector.Timeout)
	if v, ok := lookup(EnvPrefix + "DETECTOR_ARGS"); ok && v != "" {
		c.Detector.Args = strings.Fields(v)
	}
	if v, ok := lookup(EnvPrefix + "DETECTOR_CONFIDENCE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDETECTOR_CONFIDENCE: %w", EnvPrefix, err))
		} else {
			c.Detector.Confidence = f
		}
	}
	num("TARGET_FPS", &c.Pipeline.TargetFPS)
	num("INFERENCE_EVERY", &c.Pipeline.InferenceEvery)
	dur("WATCHDOG", &c.Pipeline.Watchdog)
	dur("LABEL_WINDOW", &c.Debounce.LabelWindow)
	dur("COOLDOWN", &c.Debounce.Cooldown)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.CatalogPath == "" {
		errs = append(errs, errors.New("catalog_path must not be empty"))
	}
	if c.Camera.OpenAttempts < 1 {
		errs = append(errs, fmt.Errorf("camera.open_attempts must be >= 1, got %d", c.Camera.OpenAttempts))
	}
	if c.Camera.OpenBackoff < 0 {
		errs = append(errs, errors.New("camera.open_backoff must not be negative"))
	}
	switch c.Detector.Backend {
	case BackendSubprocess:
		if c.Detector.Command == "" {
			errs = append(errs, errors.New("detector.command is required for the subprocess backend"))
		}
	case BackendHTTP:
		if c.Detector.URL == "" {
			errs = append(errs, errors.New("detector.url is required for the http backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detector backend %q", c.Detector.Backend))
	}
	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		errs = append(errs, fmt.Errorf("detector.confidence must be in (0, 1], got %v", c.Detector.Confidence))
	}
	if c.Detector.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("detector.image_size must be positive, got %d", c.Detector.ImageSize))
	}
	if c.Detector.Timeout <= 0 {
		errs = append(errs, errors.New("detector.timeout must be positive"))
	}
	if c.Pipeline.TargetFPS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.target_fps must be positive, got %d", c.Pipeline.TargetFPS))
	}
	if c.Pipeline.InferenceEvery <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.inference_every must be positive, got %d", c.Pipeline.InferenceEvery))
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("pipeline.jpeg_quality must be in [1, 100], got %d", c.Pipeline.JPEGQuality))
	}
	if c.Pipeline.StopGrace < 0 || c.Pipeline.Watchdog < 0 || c.Pipeline.NoDetectionBanner < 0 {
		errs = append(errs, errors.New("pipeline durations must not be negative"))
	}
	if c.Debounce.LabelWindow < 0 || c.Debounce.Cooldown < 0 {
		errs = append(errs, errors.New("debounce durations must not be negative"))
	}
	return errors.Join(errs...)
}
