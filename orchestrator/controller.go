package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/edmo-pose/clock"
	"github.com/maastricht-university/edmo-pose/pose"
)

// Config is the initial state of a Controller.
type Config struct {
	Rates     RateConfig
	Profiles  Profiles
	Profile   string // applied at construction when set
	Estimator pose.EstimatorOptions
	Options   Options
}

// Deps are the collaborators of a Controller. Camera and Inference are
// required; Bridge and Recorder may be nil.
type Deps struct {
	Camera    Camera
	Inference Inference
	Renderer  Renderer
	Bridge    Bridge
	Recorder  Recorder
	Clock     clock.Clock
	Log       *logrus.Entry
}

// Controller paces a camera feed into pose inference, overlay redraws and
// bridge sends, each behind its own rate gate.
//
// All state is guarded by mu. Collaborators are always called with mu
// released, so an inference service may deliver results synchronously
// from Send. lifeMu serializes Start, Stop and SetResolution so a camera
// restart never interleaves with a stop.
type Controller struct {
	camera    Camera
	inference Inference
	renderer  Renderer
	bridge    Bridge
	recorder  Recorder
	clock     clock.Clock
	log       *logrus.Entry
	baseLevel logrus.Level
	profiles  Profiles

	lifeMu sync.Mutex

	mu            sync.Mutex
	running       bool
	runCtx        context.Context
	rates         RateConfig
	estimator     pose.EstimatorOptions
	profile       string
	opts          Options
	lastCapture   time.Time
	lastInference time.Time
	lastRedraw    time.Time
	lastDispatch  time.Time
	lastSent      time.Time
	lastPose      *pose.Frame
	lastPayload   *pose.Payload
	fps           fpsMeter
	counters      Counters
}

func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Camera == nil || deps.Inference == nil {
		return nil, fmt.Errorf("controller needs a camera and an inference service")
	}
	if err := cfg.Rates.Validate(); err != nil {
		return nil, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	if err := cfg.Profiles.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Estimator.Validate(); err != nil {
		return nil, err
	}
	if cfg.Options.Codec == nil {
		cfg.Options.Codec = pose.JSON
	}
	if deps.Renderer == nil {
		deps.Renderer = nopRenderer{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Controller{
		camera:    deps.Camera,
		inference: deps.Inference,
		renderer:  deps.Renderer,
		bridge:    deps.Bridge,
		recorder:  deps.Recorder,
		clock:     deps.Clock,
		log:       deps.Log.WithField("component", "controller"),
		baseLevel: restoreLevel(deps.Log.Logger.GetLevel()),
		profiles:  cfg.Profiles,
		rates:     cfg.Rates,
		estimator: cfg.Estimator,
		opts:      cfg.Options,
	}

	if err := c.inference.SetOptions(c.estimator); err != nil {
		return nil, fmt.Errorf("configure inference: %w", err)
	}
	c.inference.OnResults(func(f pose.Frame) {
		c.OnInferenceResult(f, c.clock.Now())
	})

	if cfg.Profile != "" {
		if err := c.SetPerformanceProfile(cfg.Profile); err != nil {
			return nil, err
		}
	}
	if cfg.Options.Debug {
		c.SetDebug(true)
	}
	return c, nil
}

// Start moves the controller from Stopped to Running and starts the camera.
// A camera failure leaves the controller Stopped.
func (c *Controller) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.runCtx = ctx
	target := c.rates.Inference
	c.mu.Unlock()

	if s, ok := c.camera.(FrameRateSetter); ok {
		if err := s.SetTargetFPS(target); err != nil {
			c.log.WithError(err).Warn("camera rejected target frame rate")
		}
	}

	if err := c.camera.Start(ctx, c.handleFrame); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.log.WithError(err).Error("camera failed to start; check device permissions")
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	c.log.WithField("target_fps", target).Info("controller started")
	return nil
}

// Stop moves the controller to Stopped and releases the camera. Inference
// results still in flight are ignored when they arrive.
func (c *Controller) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	if err := c.camera.Stop(); err != nil {
		c.log.WithError(err).Warn("camera stop failed")
		return fmt.Errorf("stop camera: %w", err)
	}
	c.log.Info("controller stopped")
	return nil
}

func (c *Controller) handleFrame(img pose.Image) {
	c.OnCameraFrame(img, c.clock.Now())
}

// OnCameraFrame runs the render and inference gates for one camera frame.
func (c *Controller) OnCameraFrame(img pose.Image, now time.Time) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.counters.Frames++

	drawVideo := c.opts.ShowVideo
	if drawVideo {
		c.counters.VideoDraws++
	}

	// The skeleton is an overlay on the video image; hiding the video hides it too.
	var overlay []pose.Landmark
	if drawVideo && c.opts.ShowSkeleton && c.lastPose != nil && len(c.lastPose.Landmarks) > 0 {
		if !c.opts.RedrawGated {
			overlay = c.lastPose.Landmarks
		} else if due(now, c.lastRedraw, Interval(c.rates.Redraw)) {
			c.lastRedraw = now
			overlay = c.lastPose.Landmarks
		}
	}
	if overlay != nil {
		c.counters.SkeletonDraws++
	}

	infer := due(now, c.lastCapture, Interval(c.rates.Capture))
	if infer {
		c.lastCapture = now
		c.counters.Inferences++
	}
	c.mu.Unlock()

	if drawVideo {
		c.renderer.DrawVideo(img)
	}
	if overlay != nil {
		c.renderer.DrawSkeleton(overlay, pose.Connections, pose.ConnectorStyle, pose.LandmarkStyle)
	}
	if infer {
		if err := c.inference.Send(img); err != nil {
			c.mu.Lock()
			c.counters.InferErrors++
			c.mu.Unlock()
			c.log.WithError(err).WithField("seq", img.Seq).Warn("inference submit failed")
		}
	}
}

// OnInferenceResult caches the frame and runs the dispatch gate.
func (c *Controller) OnInferenceResult(frame pose.Frame, now time.Time) {
	connected := c.bridge != nil && c.bridge.Connected()

	c.mu.Lock()
	if !c.running {
		c.counters.LateResults++
		c.mu.Unlock()
		return
	}
	c.counters.Results++
	c.lastPose = &frame
	c.fps.observe(now)
	c.lastInference = now

	if !connected || !c.opts.DispatchEnabled || !due(now, c.lastDispatch, Interval(c.rates.Dispatch)) {
		c.mu.Unlock()
		return
	}
	payload, ok := pose.BuildPayload(frame, c.opts.FlipWorldXY)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.lastDispatch = now
	c.lastPayload = &payload
	target, method, codec := c.opts.Target, c.opts.Method, c.opts.Codec
	c.mu.Unlock()

	c.dispatch(payload, target, method, codec, now)
}

func (c *Controller) dispatch(p pose.Payload, target, method string, codec pose.Codec, now time.Time) {
	data, err := codec.Marshal(p)
	if err == nil {
		err = safeSend(c.bridge, target, method, string(data))
	}

	c.mu.Lock()
	if err != nil {
		c.counters.SendErrors++
	} else {
		c.counters.Sends++
		c.lastSent = now
	}
	c.mu.Unlock()

	if err != nil {
		c.log.WithError(err).WithField("target", target).Warn("send to bridge failed")
		return
	}
	c.log.WithFields(logrus.Fields{
		"landmarks": len(p.Landmarks),
		"bytes":     len(data),
	}).Debug("pose data sent")

	if c.recorder != nil {
		if err := c.recorder.Record(p, now); err != nil {
			c.log.WithError(err).Warn("record payload failed")
		}
	}
}

// safeSend turns a panicking bridge into an error.
func safeSend(b Bridge, target, method, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge panic: %v", r)
		}
	}()
	return b.Send(target, method, payload)
}

// SetRate changes one cadence. Invalid values leave the rate unchanged.
func (c *Controller) SetRate(ch Channel, fps float64) error {
	c.mu.Lock()
	err := c.rates.Set(ch, fps)
	running := c.running
	c.mu.Unlock()
	if err != nil {
		c.log.WithError(err).Warn("rate rejected")
		return err
	}

	c.log.WithFields(logrus.Fields{
		"channel":  ch,
		"fps":      fps,
		"interval": Interval(fps),
	}).Info("rate set")

	if ch == ChannelInference && running {
		if s, ok := c.camera.(FrameRateSetter); ok {
			if err := s.SetTargetFPS(fps); err != nil {
				c.log.WithError(err).Warn("camera rejected target frame rate")
			}
		}
	}
	return nil
}

func (c *Controller) Rate(ch Channel) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rates.Get(ch)
}

func (c *Controller) Rates() RateConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rates
}

// SetPerformanceProfile applies a named bundle of model complexity,
// capture rate and dispatch rate as one change.
func (c *Controller) SetPerformanceProfile(name string) error {
	p, ok := c.profiles[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}

	c.mu.Lock()
	est := c.estimator
	c.mu.Unlock()
	est.Complexity = p.Complexity

	if err := c.inference.SetOptions(est); err != nil {
		return fmt.Errorf("apply profile %s: %w", name, err)
	}

	c.mu.Lock()
	c.estimator = est
	c.rates.Capture = p.CaptureRate
	c.rates.Dispatch = p.DispatchRate
	c.profile = name
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"profile":    name,
		"complexity": p.Complexity,
		"capture":    p.CaptureRate,
		"dispatch":   p.DispatchRate,
	}).Info("performance profile applied")
	return nil
}

func (c *Controller) Profile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

func (c *Controller) ProfileNames() []string {
	return c.profiles.Names()
}

// SetResolution changes the camera capture size, restarting the camera if
// the controller is running.
func (c *Controller) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", width, height)
	}
	rz, ok := c.camera.(Resizer)
	if !ok {
		return fmt.Errorf("resolution: %w", ErrUnsupported)
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	running, ctx := c.running, c.runCtx
	c.mu.Unlock()

	if running {
		if err := c.camera.Stop(); err != nil {
			c.log.WithError(err).Warn("camera stop failed")
		}
	}
	if err := rz.SetResolution(width, height); err != nil {
		return fmt.Errorf("resolution: %w", err)
	}
	if running {
		if err := c.camera.Start(ctx, c.handleFrame); err != nil {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
	}
	c.log.WithFields(logrus.Fields{"width": width, "height": height}).Info("resolution changed")
	return nil
}

func (c *Controller) SetShowVideo(on bool) {
	c.mu.Lock()
	c.opts.ShowVideo = on
	c.mu.Unlock()
}

func (c *Controller) SetShowSkeleton(on bool) {
	c.mu.Lock()
	c.opts.ShowSkeleton = on
	c.mu.Unlock()
}

func (c *Controller) SetDispatchEnabled(on bool) {
	c.mu.Lock()
	c.opts.DispatchEnabled = on
	c.mu.Unlock()
	c.log.WithField("enabled", on).Info("data transmission toggled")
}

// ToggleDispatch flips dispatch on or off and returns the new setting.
func (c *Controller) ToggleDispatch() bool {
	c.mu.Lock()
	on := !c.opts.DispatchEnabled
	c.mu.Unlock()
	c.SetDispatchEnabled(on)
	return on
}

// restoreLevel is the level SetDebug(false) restores. A logger that is already
// at debug or trace falls back to info, so debug off is never a no-op.
func restoreLevel(l logrus.Level) logrus.Level {
	if l >= logrus.DebugLevel {
		return logrus.InfoLevel
	}
	return l
}

// SetDebug raises the shared logger to debug level, or restores the level
// it had when the controller was built.
func (c *Controller) SetDebug(on bool) {
	c.mu.Lock()
	c.opts.Debug = on
	c.mu.Unlock()
	if on {
		c.log.Logger.SetLevel(logrus.DebugLevel)
	} else {
		c.log.Logger.SetLevel(c.baseLevel)
	}
	c.log.WithField("debug", on).Info("debug mode toggled")
}

func (c *Controller) ToggleDebug() bool {
	c.mu.Lock()
	on := !c.opts.Debug
	c.mu.Unlock()
	c.SetDebug(on)
	return on
}

func (c *Controller) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return Running
	}
	return Stopped
}

// LastPose returns the last payload built for the bridge, or nil if none
// has been sent.
func (c *Controller) LastPose() *pose.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPayload == nil {
		return nil
	}
	p := *c.lastPayload
	return &p
}

// LastFrame returns the most recent inference result, or nil.
func (c *Controller) LastFrame() *pose.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPose == nil {
		return nil
	}
	f := *c.lastPose
	return &f
}

// CurrentFPS is the inference result rate derived from the last two results.
func (c *Controller) CurrentFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps.current
}

func (c *Controller) Snapshot() Snapshot {
	connected := c.bridge != nil && c.bridge.Connected()

	c.mu.Lock()
	defer c.mu.Unlock()
	mean, sd := c.fps.stats()
	state := Stopped
	if c.running {
		state = Running
	}
	return Snapshot{
		State:           state,
		Profile:         c.profile,
		Rates:           c.rates,
		Estimator:       c.estimator,
		Options:         c.opts,
		Counters:        c.counters,
		FPS:             c.fps.current,
		MeanFPS:         mean,
		FPSStdDev:       sd,
		BridgeConnected: connected,
		LastResultAt:    c.lastInference,
		LastSentAt:      c.lastSent,
	}
}
