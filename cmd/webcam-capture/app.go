package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/i474232898/webcam-capture/internal/capture"
	"github.com/i474232898/webcam-capture/internal/config"
	"github.com/i474232898/webcam-capture/internal/imagemeta"
	"github.com/i474232898/webcam-capture/internal/logger"
	"github.com/i474232898/webcam-capture/internal/metrics"
	"github.com/i474232898/webcam-capture/internal/overlay"
	"github.com/i474232898/webcam-capture/internal/pipeline"
	"github.com/i474232898/webcam-capture/internal/store"
	"github.com/i474232898/webcam-capture/internal/sun"
	"github.com/i474232898/webcam-capture/internal/upload"
	"github.com/i474232898/webcam-capture/internal/weather"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg          *config.AppConfig
	logger       *zap.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	store        *store.MemoryStore
	clock        *sun.Clock
	capturer     *capture.FFmpeg
	uploader     *upload.Uploader
	orchestrator *pipeline.Orchestrator
}

func loadConfig(path, logLevel string) (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// buildApp wires every component from configuration. Errors here are fatal.
func buildApp(cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := sun.NewClock(cfg.Location.Latitude, cfg.Location.Longitude, cfg.Sun.Override)

	capturer, err := capture.NewFFmpeg(capture.Options{
		Binary:         cfg.Camera.FFmpegPath,
		URL:            cfg.Camera.RTSPURL,
		User:           cfg.Camera.RTSPUser,
		Password:       cfg.Camera.RTSPPassword,
		ExtraArgs:      cfg.Camera.FFmpegArgs,
		Timeout:        cfg.Camera.Timeout,
		MaxOutputBytes: cfg.Camera.MaxOutputBytes,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	sink, err := buildSink(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	uploader := upload.New(sink, upload.Policy{
		MaxAttempts:    cfg.Upload.MaxAttempts,
		InitialBackoff: cfg.Upload.InitialBackoff,
		AttemptTimeout: cfg.Upload.Timeout,
	}, log, upload.WithObserver(m.ObserveAttempt))

	deps := pipeline.Deps{
		Capturer: capturer,
		Uploader: uploader,
		Clock:    clock,
	}
	if cfg.WeatherOverlay() {
		deps.Weather = weather.NewClient(weather.Options{
			APIURL:   cfg.Weather.APIURL,
			Timeout:  cfg.Weather.Timeout,
			CacheTTL: cfg.Weather.CacheTTL,
			Observer: m.ObserveWeather,
		}, log)

		opts := overlay.Options{
			Position:        cfg.Overlay.Position,
			FontSize:        cfg.Overlay.FontSize,
			FontColor:       cfg.Overlay.FontColor,
			FontPath:        cfg.Overlay.FontPath,
			BackgroundColor: cfg.Overlay.BackgroundColor,
			Quality:         cfg.Overlay.Quality,
		}
		if icon := cfg.Overlay.Icon; icon != nil {
			opts.Icon = overlay.IconSource{SVG: icon.SVG, Path: icon.Path, URL: icon.URL}
			opts.IconSize = icon.Size
			opts.IconSide = icon.Side
		}
		compositor, err := overlay.NewCompositor(opts, log)
		if err != nil {
			return nil, fmt.Errorf("overlay: %w", err)
		}
		deps.Compositor = compositor
	}

	if md := cfg.Metadata; md.Embed {
		deps.Metadata = imagemeta.New(imagemeta.Static{
			CameraName:    md.CameraName,
			Provider:      md.ProviderName,
			Latitude:      cfg.Location.Latitude,
			Longitude:     cfg.Location.Longitude,
			CameraHeading: cfg.Location.CameraHeading,
			AirfieldICAO:  cfg.Weather.ICAOCode,
			WebcamURL:     md.WebcamURL,
			License:       md.License,
			LicenseURL:    md.LicenseURL,
			LicenseMark:   md.LicenseMark,
		})
	}

	mem := store.NewMemoryStore(cfg.Status.MaxHistory, cfg.Status.MaxAge)
	orch := pipeline.New(pipeline.Config{
		LocationName:   cfg.Location.Name,
		Latitude:       cfg.Location.Latitude,
		Longitude:      cfg.Location.Longitude,
		CameraHeading:  cfg.Location.CameraHeading,
		Station:        cfg.Weather.ICAOCode,
		WeatherOverlay: cfg.WeatherOverlay(),
		FilenamePrefix: cfg.Upload.FilenamePrefix,
		CleanCopy:      cfg.Upload.CleanCopy,
		Debug:          cfg.Debug.Enabled,
		Interval: func(isDay bool) time.Duration {
			if isDay {
				return cfg.DayInterval()
			}
			return cfg.NightInterval()
		},
	}, deps, log, mem, m)

	return &app{
		cfg:          cfg,
		logger:       log,
		registry:     reg,
		metrics:      m,
		store:        mem,
		clock:        clock,
		capturer:     capturer,
		uploader:     uploader,
		orchestrator: orch,
	}, nil
}

func buildSink(cfg *config.AppConfig, log *zap.Logger) (upload.Sink, error) {
	switch cfg.Upload.Method {
	case "sftp":
		s := cfg.Upload.SFTP
		return upload.NewSFTPSink(upload.SFTPOptions{
			Host:           s.Host,
			Port:           s.Port,
			User:           s.User,
			Password:       s.Password,
			RemotePath:     s.RemotePath,
			KnownHostsFile: s.KnownHostsFile,
			ImageBaseURL:   s.ImageBaseURL,
		}, log)
	case "s3":
		s := cfg.Upload.S3
		return upload.NewS3Sink(upload.S3Options{
			Endpoint:  s.Endpoint,
			Bucket:    s.Bucket,
			Region:    s.Region,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Prefix:    s.Prefix,
			UseSSL:    s.UseSSL,
		})
	default:
		return upload.NewHTTPSink(cfg.Upload.API.URL, cfg.Upload.API.Key, &http.Client{}), nil
	}
}

// drainTimeout bounds how long shutdown waits for an in-flight cycle: the sum of
// every stage's own timeout plus the upload backoff, twice with a clean copy.
func drainTimeout(cfg *config.AppConfig) time.Duration {
	var up time.Duration
	for n := 1; n <= cfg.Upload.MaxAttempts; n++ {
		up += cfg.Upload.Timeout
		if n < cfg.Upload.MaxAttempts {
			up += cfg.Upload.InitialBackoff << (n - 1)
		}
	}
	if cfg.Upload.CleanCopy {
		up *= 2
	}
	return cfg.Camera.Timeout + cfg.Weather.Timeout + 5*time.Second + up + 10*time.Second
}
