package main

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/camera"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/camera/webcam"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/cart"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/catalog"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/config"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/debounce"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/detector"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/pipeline"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/receipts"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/web"
)

// app wires the checkout components for one process.
type app struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	catalog  *catalog.Catalog
	adapter  *detector.Adapter
	store    *cart.Store
	queue    *cart.EventQueue
	pipeline *pipeline.Pipeline
	receipts *receipts.Store
}

func newApp(cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Main", "Catalog: %d products from %s", cat.Len(), cfg.CatalogPath)

	m := metrics.New()
	adapter, err := newAdapter(cfg, cat, m)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		metrics: m,
		catalog: cat,
		adapter: adapter,
		store:   cart.NewStore(cat),
		queue:   cart.NewEventQueue(),
	}

	src := camera.NewSource(newOpener(cfg.Camera), camera.SourceConfig{
		Attempts: cfg.Camera.OpenAttempts,
		Backoff:  cfg.Camera.OpenBackoff,
	}, nil, m)

	a.pipeline = pipeline.New(pipeline.Config{
		TargetFPS:         cfg.Pipeline.TargetFPS,
		InferenceEvery:    cfg.Pipeline.InferenceEvery,
		InferenceTimeout:  cfg.Detector.Timeout,
		StopGrace:         cfg.Pipeline.StopGrace,
		Watchdog:          cfg.Pipeline.Watchdog,
		NoDetectionBanner: cfg.Pipeline.NoDetectionBanner,
		JPEGQuality:       cfg.Pipeline.JPEGQuality,
	}, pipeline.Deps{
		Source:   src,
		Detector: adapter,
		Filter: debounce.New(debounce.Config{
			LabelWindow: cfg.Debounce.LabelWindow,
			Cooldown:    cfg.Debounce.Cooldown,
		}, cat),
		Emitter: cart.NewEmitter(a.store, a.queue),
		Metrics: m,
	})

	if cfg.ReceiptsDB != "" {
		a.receipts, err = receipts.Open(cfg.ReceiptsDB)
		if err != nil {
			return nil, multierr.Append(err, adapter.Close())
		}
		logger.Info("Main", "Receipts: %s", cfg.ReceiptsDB)
	}
	return a, nil
}

func (a *app) webServer() *web.Server {
	deps := web.Deps{
		Camera:  a.pipeline,
		Store:   a.store,
		Queue:   a.queue,
		Catalog: a.catalog,
		Metrics: a.metrics,
	}
	if a.receipts != nil {
		deps.Receipts = a.receipts
	}
	return web.NewServer(web.Config{StaticDir: a.cfg.StaticDir}, deps)
}

// Close releases the camera, the model worker and the ledger.
func (a *app) Close() error {
	err := multierr.Combine(a.pipeline.Stop(), a.adapter.Close())
	if a.receipts != nil {
		err = multierr.Append(err, a.receipts.Close())
	}
	return err
}

func newOpener(cc config.CameraConfig) camera.Opener {
	if cc.ReplayDir != "" {
		logger.Info("Main", "Camera: replaying images from %s", cc.ReplayDir)
		return camera.ReplayOpener{Dir: cc.ReplayDir}
	}
	logger.Info("Main", "Camera: webcam %d", cc.Index)
	return webcam.Opener{Index: cc.Index, Width: cc.Width, Height: cc.Height}
}

func newAdapter(cfg config.Config, cat *catalog.Catalog, m *metrics.Metrics) (*detector.Adapter, error) {
	aliases := detector.DefaultAliases
	if cfg.AliasesPath != "" {
		loaded, err := detector.LoadAliases(cfg.AliasesPath)
		if err != nil {
			return nil, err
		}
		aliases = loaded
	}

	var model detector.Model
	switch cfg.Detector.Backend {
	case config.BackendHTTP:
		logger.Info("Main", "Detector: http %s", cfg.Detector.URL)
		model = detector.NewHTTPModel(cfg.Detector.URL, cfg.Detector.Timeout)
	default:
		logger.Info("Main", "Detector: worker %s", cfg.Detector.Command)
		model = detector.NewSubprocessModel(detector.SubprocessConfig{
			Command: cfg.Detector.Command,
			Args:    cfg.Detector.Args,
			Timeout: cfg.Detector.Timeout,
		})
	}

	return detector.NewAdapter(model, detector.NewNormalizer(aliases, cat), detector.Options{
		Confidence: cfg.Detector.Confidence,
		ImageSize:  cfg.Detector.ImageSize,
	}, m), nil
}
