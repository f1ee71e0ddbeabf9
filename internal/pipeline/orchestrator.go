// Package pipeline runs one capture cycle: capture, weather, overlay, metadata, upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/webcam-capture/internal/common"
	"github.com/i474232898/webcam-capture/internal/imagemeta"
	"github.com/i474232898/webcam-capture/internal/overlay"
	"github.com/i474232898/webcam-capture/internal/upload"
	"github.com/i474232898/webcam-capture/internal/weather"
)

// Capturer grabs one encoded frame from the camera.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// WeatherSource returns current conditions for a station.
type WeatherSource interface {
	Current(ctx context.Context, station string) (weather.Conditions, error)
}

// Compositor draws the badge. It must not fail; problems are reported as degraded.
type Compositor interface {
	Compose(ctx context.Context, base []byte, text string) common.Result[overlay.Rendered]
}

// MetadataEmbedder writes EXIF/XMP into an encoded JPEG.
type MetadataEmbedder interface {
	Embed(img []byte, c imagemeta.Capture) ([]byte, error)
}

// Uploader delivers the final image.
type Uploader interface {
	Upload(ctx context.Context, p upload.Payload) (upload.Receipt, error)
}

// SunClock resolves the day/night state of an instant.
type SunClock interface {
	IsDaytime(t time.Time) bool
	Times(t time.Time) (sunriseAt, sunsetAt time.Time)
}

// Recorder receives every report, skipped cycles included.
type Recorder interface {
	Record(r Report)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Report)

func (f RecorderFunc) Record(r Report) { f(r) }

// Config holds the static per-cycle settings.
type Config struct {
	LocationName   string
	Latitude       float64
	Longitude      float64
	CameraHeading  string
	Station        string
	WeatherOverlay bool
	FilenamePrefix string
	// CleanCopy also uploads the frame without the badge, as "<name>-clean.jpg".
	CleanCopy bool
	Debug     bool
	// Interval returns the capture period for the given state; used in upload metadata.
	Interval func(isDay bool) time.Duration
}

// Deps are the collaborators of an Orchestrator. Weather and Compositor may be nil
// when the overlay is disabled, Metadata when embedding is off.
type Deps struct {
	Capturer   Capturer
	Weather    WeatherSource
	Compositor Compositor
	Metadata   MetadataEmbedder
	Uploader   Uploader
	Clock      SunClock
}

// Orchestrator runs capture cycles, at most one at a time.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	logger    *zap.Logger
	recorders []Recorder
	newID     func() string

	busy       atomic.Bool
	cameraSeen atomic.Bool
	sinkSeen   atomic.Bool
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger, recorders ...Recorder) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval == nil {
		cfg.Interval = func(bool) time.Duration { return 0 }
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.Named("pipeline"),
		recorders: recorders,
		newID:     func() string { return uuid.NewString() },
	}
}

// Busy reports whether a cycle is in flight.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// RunCycle executes one cycle for the given trigger instant. If a cycle is already
// running it returns a skipped report without doing any I/O.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger time.Time) Report {
	if !o.busy.CompareAndSwap(false, true) {
		r := Report{ID: o.newID(), Trigger: trigger.UTC(), Outcome: OutcomeSkipped}
		o.logger.Info("capture skipped, previous cycle still running",
			zap.String("cycle_id", r.ID), zap.Time("trigger", r.Trigger))
		o.record(r)
		return r
	}
	defer o.busy.Store(false)

	r := o.run(ctx, trigger)
	o.record(r)
	return r
}

func (o *Orchestrator) record(r Report) {
	for _, rec := range o.recorders {
		rec.Record(r)
	}
}

func (o *Orchestrator) run(ctx context.Context, trigger time.Time) (r Report) {
	start := time.Now()
	r = Report{ID: o.newID(), Trigger: trigger.UTC()}
	log := o.logger.With(zap.String("cycle_id", r.ID), zap.Time("trigger", r.Trigger))

	defer func() {
		if p := recover(); p != nil {
			log.Error("capture cycle panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.Outcome = OutcomeFailed
			r.Error = fmt.Sprintf("panic: %v", p)
		}
		r.Duration = time.Since(start)
	}()

	// 1. day/night
	r.IsDay = o.deps.Clock.IsDaytime(trigger)
	log = log.With(zap.Bool("is_day", r.IsDay))

	// 2. capture
	t0 := time.Now()
	raw, err := o.deps.Capturer.Capture(ctx)
	if err != nil {
		r.add(StageCapture, common.StatusFatal.String(), err, time.Since(t0))
		r.Outcome = OutcomeFailed
		r.Error = err.Error()
		log.Error("capture failed", zap.String("stage", string(StageCapture)), zap.Error(err))
		return r
	}
	r.add(StageCapture, common.StatusOK.String(), nil, time.Since(t0))
	if o.cameraSeen.CompareAndSwap(false, true) {
		log.Info("camera connected", zap.Int("bytes", len(raw)))
	}

	final := raw
	degraded := false
	var cond *weather.Conditions

	if o.cfg.WeatherOverlay && o.deps.Weather != nil && o.deps.Compositor != nil {
		// 3. weather
		t0 = time.Now()
		wres := o.fetchWeather(ctx)
		r.add(StageWeather, wres.Status.String(), wres.Reason, time.Since(t0))
		if wres.IsOK() {
			c := wres.Value
			cond = &c
		} else {
			degraded = true
			log.Warn("weather unavailable, uploading without overlay",
				zap.String("stage", string(StageWeather)), zap.Error(wres.Reason))
		}

		// 4. overlay
		if cond != nil {
			r.Badge = weather.BadgeText(*cond)
			t0 = time.Now()
			ores := o.compose(ctx, raw, r.Badge)
			r.add(StageOverlay, ores.Status.String(), ores.Reason, time.Since(t0))
			if !ores.IsOK() {
				degraded = true
				log.Warn("overlay degraded",
					zap.String("stage", string(StageOverlay)),
					zap.Bool("applied", ores.Value.Applied),
					zap.Bool("icon_dropped", ores.Value.IconDropped),
					zap.Error(ores.Reason))
			}
			if ores.Value.Applied && len(ores.Value.JPEG) > 0 {
				final = ores.Value.JPEG
			}
		}
	}

	// 5. metadata
	rise, set := o.deps.Clock.Times(trigger)
	clean := raw
	if o.deps.Metadata != nil {
		info := imagemeta.Capture{CapturedAt: trigger.UTC(), Sunrise: rise, Sunset: set}
		if cond != nil {
			info.RawMETAR = cond.RawMETAR
			info.RawTAF = cond.RawTAF
		}
		t0 = time.Now()
		mres := o.embed(final, info)
		r.add(StageMetadata, mres.Status.String(), mres.Reason, time.Since(t0))
		if !mres.IsOK() {
			degraded = true
			log.Warn("metadata not embedded", zap.String("stage", string(StageMetadata)), zap.Error(mres.Reason))
		}
		final = mres.Value
		if o.cfg.CleanCopy {
			if cres := o.embed(raw, info); cres.IsOK() {
				clean = cres.Value
			}
		}
	}

	// 6. upload
	r.Bytes = len(final)
	t0 = time.Now()
	p := o.payload(trigger, r.IsDay, final, cond, rise, set)
	receipt, err := o.deps.Uploader.Upload(ctx, p)
	if err != nil {
		r.add(StageUpload, common.StatusFatal.String(), err, time.Since(t0))
		r.Outcome = OutcomeFailed
		r.Error = err.Error()
		log.Error("upload failed", zap.String("stage", string(StageUpload)), zap.Error(err))
		return r
	}
	r.add(StageUpload, common.StatusOK.String(), nil, time.Since(t0))
	r.Receipt = &receipt
	if o.sinkSeen.CompareAndSwap(false, true) {
		log.Info("sink connected", zap.String("receipt_id", receipt.ID))
	}

	// 7. clean copy, best effort
	if o.cfg.CleanCopy {
		p.Image = clean
		p.Filename = cleanFilename(p.Filename)
		p.NoSidecar = true
		t0 = time.Now()
		cr, err := o.deps.Uploader.Upload(ctx, p)
		if err != nil {
			degraded = true
			r.add(StageCleanUpload, common.StatusDegraded.String(), err, time.Since(t0))
			log.Warn("clean copy upload failed", zap.String("stage", string(StageCleanUpload)), zap.Error(err))
		} else {
			r.add(StageCleanUpload, common.StatusOK.String(), nil, time.Since(t0))
			r.CleanReceipt = &cr
		}
	}

	r.Outcome = OutcomeSuccess
	if degraded {
		r.Outcome = OutcomeDegraded
	}
	log.Info("capture cycle finished",
		zap.String("outcome", string(r.Outcome)),
		zap.Int("bytes", r.Bytes),
		zap.Duration("took", time.Since(start)))
	return r
}

func (o *Orchestrator) fetchWeather(ctx context.Context) (res common.Result[weather.Conditions]) {
	defer func() {
		if p := recover(); p != nil {
			res = common.Degraded(weather.Conditions{}, fmt.Errorf("weather panic: %v", p))
		}
	}()
	c, err := o.deps.Weather.Current(ctx, o.cfg.Station)
	if err != nil {
		return common.Degraded(weather.Conditions{}, err)
	}
	return common.Ok(c)
}

// compose guards against compositors that panic or report fatal despite the contract.
func (o *Orchestrator) compose(ctx context.Context, raw []byte, text string) (res common.Result[overlay.Rendered]) {
	fallback := overlay.Rendered{JPEG: raw}
	defer func() {
		if p := recover(); p != nil {
			res = common.Degraded(fallback, fmt.Errorf("overlay panic: %v", p))
		}
	}()
	res = o.deps.Compositor.Compose(ctx, raw, text)
	if res.IsFatal() {
		reason := res.Reason
		if reason == nil {
			reason = errors.New("overlay failed")
		}
		return common.Degraded(fallback, reason)
	}
	return res
}

// embed guards the metadata stage. On any failure the image is returned untouched.
func (o *Orchestrator) embed(img []byte, info imagemeta.Capture) (res common.Result[[]byte]) {
	defer func() {
		if p := recover(); p != nil {
			res = common.Degraded(img, fmt.Errorf("metadata panic: %v", p))
		}
	}()
	out, err := o.deps.Metadata.Embed(img, info)
	if err != nil {
		return common.Degraded(img, err)
	}
	return common.Ok(out)
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Filename is "<prefix>-<location>.jpg" with unsafe characters replaced.
func Filename(prefix, location string) string {
	name := unsafeFilename.ReplaceAllString(location, "_")
	if prefix == "" {
		return name + ".jpg"
	}
	return prefix + "-" + name + ".jpg"
}

func cleanFilename(name string) string {
	return strings.TrimSuffix(name, ".jpg") + "-clean.jpg"
}

func (o *Orchestrator) payload(trigger time.Time, isDay bool, img []byte, cond *weather.Conditions, rise, set time.Time) upload.Payload {
	meta := &upload.Metadata{
		LocationName:  o.cfg.LocationName,
		Latitude:      o.cfg.Latitude,
		Longitude:     o.cfg.Longitude,
		CameraHeading: o.cfg.CameraHeading,
		Interval:      o.cfg.Interval(isDay),
		Debug:         o.cfg.Debug,
		Sunrise:       rise,
		Sunset:        set,
	}
	if o.cfg.WeatherOverlay {
		meta.Station = o.cfg.Station
	}
	if cond != nil {
		meta.RawMETAR = cond.RawMETAR
		meta.RawTAF = cond.RawTAF
	}
	return upload.Payload{
		Image:      img,
		Filename:   Filename(o.cfg.FilenamePrefix, o.cfg.LocationName),
		CapturedAt: trigger.UTC(),
		Location:   o.cfg.LocationName,
		IsDay:      isDay,
		Meta:       meta,
	}
}
