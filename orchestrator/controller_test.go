package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/edmo-pose/pose"
)

// at60 is the timestamp of the i-th frame of a 60 Hz feed.
func at60(base time.Time, i int) time.Time {
	return base.Add(time.Duration(i) * time.Second / 60)
}

func (h *harness) feed(frames int, step func(i int) time.Time) {
	for i := 0; i < frames; i++ {
		now := step(i)
		h.clock.Set(now)
		h.ctrl.OnCameraFrame(pose.Image{Seq: uint64(i)}, now)
	}
}

func TestSetRate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	for _, ch := range Channels {
		for _, fps := range []float64{0.5, 1, 12.5, 15, 29.97, 30, 59.9, 60} {
			require.NoError(t, h.ctrl.SetRate(ch, fps))
			got, err := h.ctrl.Rate(ch)
			require.NoError(t, err)
			assert.Equal(t, fps, got)
			ms := float64(h.ctrl.Rates().Interval(ch)) / float64(time.Millisecond)
			assert.InDelta(t, 1000/fps, ms, 1e-5, "%s @ %v", ch, fps)
		}
	}
}

func TestSetRateRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.SetRate(ChannelDispatch, 20))

	for _, fps := range []float64{0, -5, 61, 60.0001, math.NaN(), math.Inf(1)} {
		err := h.ctrl.SetRate(ChannelDispatch, fps)
		require.ErrorIs(t, err, ErrInvalidRate, "fps=%v", fps)
		got, _ := h.ctrl.Rate(ChannelDispatch)
		assert.Equal(t, 20.0, got)
		assert.Equal(t, Interval(20), h.ctrl.Rates().Interval(ChannelDispatch))
	}

	assert.ErrorIs(t, h.ctrl.SetRate("video", 10), ErrUnknownChannel)
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start and stop", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.Equal(t, Stopped, h.ctrl.State())

		require.NoError(t, h.ctrl.Start(context.Background()))
		assert.Equal(t, Running, h.ctrl.State())
		assert.Equal(t, 30.0, h.camera.fps, "camera gets the inference-channel target rate")
		assert.ErrorIs(t, h.ctrl.Start(context.Background()), ErrAlreadyRunning)
		assert.Equal(t, 1, h.camera.starts)

		require.NoError(t, h.ctrl.Stop())
		require.NoError(t, h.ctrl.Stop())
		assert.Equal(t, Stopped, h.ctrl.State())
		assert.Equal(t, 1, h.camera.stops, "stop is idempotent")
	})

	t.Run("camera failure leaves controller stopped", func(t *testing.T) {
		h := newHarness(t, nil)
		h.camera.startErr = errDenied

		err := h.ctrl.Start(context.Background())
		require.ErrorIs(t, err, ErrCameraUnavailable)
		assert.Equal(t, Stopped, h.ctrl.State())
	})

	t.Run("camera frames drive the controller", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.Start(context.Background()))
		h.camera.onFrame(pose.Image{Seq: 1})
		assert.Equal(t, 1, h.infer.sent())
	})

	t.Run("stopped controller ignores events", func(t *testing.T) {
		h := newHarness(t, nil)
		now := h.clock.Now()
		h.ctrl.OnCameraFrame(pose.Image{}, now)
		h.ctrl.OnInferenceResult(testFrame(), now)

		assert.Equal(t, 0, h.infer.sent())
		assert.Equal(t, 0, h.renderer.video)
		assert.Nil(t, h.ctrl.LastFrame())
		assert.Empty(t, h.bridge.sent())
	})

	t.Run("results after stop are dropped", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.Start(context.Background()))
		require.NoError(t, h.ctrl.Stop())

		h.ctrl.OnInferenceResult(testFrame(), h.clock.Now())
		assert.Nil(t, h.ctrl.LastFrame())
		assert.Equal(t, uint64(1), h.ctrl.Snapshot().Counters.LateResults)
	})
}

func TestDispatchScenario60Hz(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Rates.Capture = 60
		c.Rates.Dispatch = 30
	})
	h.infer.instant = true
	require.NoError(t, h.ctrl.Start(context.Background()))

	base := h.clock.Now()
	h.feed(60, func(i int) time.Time { return at60(base, i) })

	assert.Equal(t, 60, h.infer.sent())
	assert.InDelta(t, 30, len(h.bridge.sent()), 1)
	assert.Len(t, h.recorder.payloads, len(h.bridge.sent()))
	assert.InDelta(t, 60, h.ctrl.CurrentFPS(), 0.01)
}

func TestGateIdempotence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.infer.instant = true
	require.NoError(t, h.ctrl.Start(context.Background()))

	now := h.clock.Now()
	h.ctrl.OnCameraFrame(pose.Image{}, now)
	h.ctrl.OnCameraFrame(pose.Image{}, now)

	assert.Equal(t, 1, h.infer.sent())
	assert.Len(t, h.bridge.sent(), 1)

	h.ctrl.OnInferenceResult(testFrame(), now)
	assert.Len(t, h.bridge.sent(), 1)
}

func TestInferenceGate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.Rates.Capture = 15 })
	require.NoError(t, h.ctrl.Start(context.Background()))

	base := h.clock.Now()
	h.feed(60, func(i int) time.Time { return at60(base, i) })
	assert.Equal(t, 15, h.infer.sent())
}

func TestRenderGate(t *testing.T) {
	t.Parallel()

	t.Run("skeleton throttled, video every frame", func(t *testing.T) {
		h := newHarness(t, func(c *Config) {
			c.Rates.Capture = 60
			c.Rates.Redraw = 15
		})
		h.infer.instant = true
		require.NoError(t, h.ctrl.Start(context.Background()))

		base := h.clock.Now()
		h.feed(60, func(i int) time.Time { return at60(base, i) })

		assert.Equal(t, 60, h.renderer.video)
		assert.Equal(t, 15, h.renderer.skeleton)
	})

	t.Run("ungated skeleton follows every frame", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Options.RedrawGated = false })
		h.infer.instant = true
		require.NoError(t, h.ctrl.Start(context.Background()))

		base := h.clock.Now()
		h.feed(60, func(i int) time.Time { return at60(base, i) })
		// the first frame has no cached pose yet
		assert.Equal(t, 59, h.renderer.skeleton)
	})

	t.Run("display switches", func(t *testing.T) {
		h := newHarness(t, nil)
		h.infer.instant = true
		require.NoError(t, h.ctrl.Start(context.Background()))
		h.ctrl.SetShowVideo(false)
		h.ctrl.SetShowSkeleton(false)

		base := h.clock.Now()
		h.feed(10, func(i int) time.Time { return at60(base, i) })
		assert.Zero(t, h.renderer.video)
		assert.Zero(t, h.renderer.skeleton)
	})

	t.Run("hidden video hides the skeleton", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Options.RedrawGated = false })
		h.infer.instant = true
		require.NoError(t, h.ctrl.Start(context.Background()))
		h.ctrl.SetShowVideo(false)
		require.True(t, h.ctrl.Options().ShowSkeleton)

		base := h.clock.Now()
		h.feed(10, func(i int) time.Time { return at60(base, i) })
		assert.Zero(t, h.renderer.video)
		assert.Zero(t, h.renderer.skeleton)
		assert.Zero(t, h.ctrl.Snapshot().Counters.SkeletonDraws)
	})
}

func TestDispatchPayload(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))

	frame := testFrame()
	h.ctrl.OnInferenceResult(frame, h.clock.Now())

	msgs := h.bridge.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "PoseManager", msgs[0].target)
	assert.Equal(t, "UpdatePoseData", msgs[0].method)

	var got pose.Payload
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &got))
	require.Len(t, got.Landmarks, pose.NumLandmarks)
	for i, l := range got.Landmarks {
		assert.Equal(t, -frame.WorldLandmarks[i].X, l.X)
		assert.Equal(t, -frame.WorldLandmarks[i].Y, l.Y)
		assert.Equal(t, frame.WorldLandmarks[i].Z, l.Z)
	}
	require.NotNil(t, got.ArmAngles)

	last := h.ctrl.LastPose()
	require.NotNil(t, last)
	assert.Equal(t, got.Landmarks, last.Landmarks)
}

func TestDispatchSkipped(t *testing.T) {
	t.Parallel()

	t.Run("bridge absent", func(t *testing.T) {
		h := newHarness(t, nil)
		h.bridge.connected = false
		h.infer.instant = true
		require.NoError(t, h.ctrl.Start(context.Background()))

		base := h.clock.Now()
		assert.NotPanics(t, func() {
			h.feed(30, func(i int) time.Time { return at60(base, i) })
		})
		assert.Empty(t, h.bridge.sent())
		assert.Nil(t, h.ctrl.LastPose())
		assert.NotNil(t, h.ctrl.LastFrame())
		assert.Zero(t, h.ctrl.Snapshot().Counters.SendErrors)
	})

	t.Run("dispatch disabled", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.Start(context.Background()))
		assert.False(t, h.ctrl.ToggleDispatch())

		h.ctrl.OnInferenceResult(testFrame(), h.clock.Now())
		assert.Empty(t, h.bridge.sent())

		assert.True(t, h.ctrl.ToggleDispatch())
		h.ctrl.OnInferenceResult(testFrame(), h.clock.Now())
		assert.Len(t, h.bridge.sent(), 1)
	})

	t.Run("no world landmarks", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.Start(context.Background()))
		now := h.clock.Now()

		h.ctrl.OnInferenceResult(pose.Frame{Landmarks: testFrame().Landmarks}, now)
		assert.Empty(t, h.bridge.sent())
		// the gate was not consumed
		h.ctrl.OnInferenceResult(testFrame(), now)
		assert.Len(t, h.bridge.sent(), 1)
	})
}

func TestSendFailureIsTransient(t *testing.T) {
	t.Parallel()

	for name, breakBridge := range map[string]func(*fakeBridge){
		"error": func(b *fakeBridge) { b.err = errors.New("unity not loaded") },
		"panic": func(b *fakeBridge) { b.panics = true },
	} {
		breakBridge := breakBridge
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			require.NoError(t, h.ctrl.Start(context.Background()))
			breakBridge(h.bridge)

			now := h.clock.Now()
			assert.NotPanics(t, func() { h.ctrl.OnInferenceResult(testFrame(), now) })
			snap := h.ctrl.Snapshot()
			assert.Equal(t, uint64(1), snap.Counters.SendErrors)
			assert.Zero(t, snap.Counters.Sends)
			assert.Empty(t, h.recorder.payloads)

			h.bridge.mu.Lock()
			h.bridge.err, h.bridge.panics = nil, false
			h.bridge.mu.Unlock()

			h.ctrl.OnInferenceResult(testFrame(), now.Add(Interval(30)))
			assert.Len(t, h.bridge.sent(), 1)
			assert.Equal(t, State(Running), h.ctrl.State())
		})
	}
}

func TestPerformanceProfile(t *testing.T) {
	t.Parallel()

	t.Run("last profile wins", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.SetPerformanceProfile("low"))
		rates := h.ctrl.Rates()
		assert.Equal(t, 15.0, rates.Capture)
		assert.Equal(t, 15.0, rates.Dispatch)

		require.NoError(t, h.ctrl.SetPerformanceProfile("high"))
		rates = h.ctrl.Rates()
		assert.Equal(t, 30.0, rates.Capture)
		assert.Equal(t, 30.0, rates.Dispatch)
		assert.Equal(t, 15.0, rates.Redraw, "profiles leave other cadences alone")
		assert.Equal(t, "high", h.ctrl.Profile())
		assert.Equal(t, 1, h.infer.opts[len(h.infer.opts)-1].Complexity)
	})

	t.Run("unknown profile has no side effects", func(t *testing.T) {
		h := newHarness(t, nil)
		before := h.ctrl.Rates()
		calls := len(h.infer.opts)

		assert.ErrorIs(t, h.ctrl.SetPerformanceProfile("turbo"), ErrUnknownProfile)
		assert.Equal(t, before, h.ctrl.Rates())
		assert.Len(t, h.infer.opts, calls)
		assert.Empty(t, h.ctrl.Profile())
	})

	t.Run("inference refusal keeps state", func(t *testing.T) {
		h := newHarness(t, nil)
		h.infer.optErr = errors.New("model not loaded")
		before := h.ctrl.Rates()

		assert.Error(t, h.ctrl.SetPerformanceProfile("low"))
		assert.Equal(t, before, h.ctrl.Rates())
	})

	t.Run("initial profile applied", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Profile = "low" })
		assert.Equal(t, "low", h.ctrl.Profile())
		assert.Equal(t, 15.0, h.ctrl.Rates().Capture)
	})

	t.Run("custom profiles", func(t *testing.T) {
		h := newHarness(t, func(c *Config) {
			c.Profiles = Profiles{"demo": {Complexity: 1, CaptureRate: 24, DispatchRate: 12}}
		})
		require.NoError(t, h.ctrl.SetPerformanceProfile("demo"))
		assert.Equal(t, 12.0, h.ctrl.Rates().Dispatch)
		assert.Equal(t, []string{"demo"}, h.ctrl.ProfileNames())
	})
}

func TestNewControllerValidation(t *testing.T) {
	t.Parallel()
	base := Config{Rates: DefaultRates(), Estimator: pose.DefaultEstimatorOptions()}
	deps := Deps{Camera: &fakeCamera{}, Inference: &fakeInference{}, Log: quietLogger()}

	_, err := NewController(base, Deps{Log: quietLogger()})
	assert.Error(t, err)

	bad := base
	bad.Rates.Redraw = 0
	_, err = NewController(bad, deps)
	assert.ErrorIs(t, err, ErrInvalidRate)

	bad = base
	bad.Profiles = Profiles{"x": {Complexity: 2, CaptureRate: 10, DispatchRate: 10}}
	_, err = NewController(bad, deps)
	assert.Error(t, err)

	bad = base
	bad.Profile = "nope"
	_, err = NewController(bad, deps)
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestRuntimeControls(t *testing.T) {
	t.Parallel()

	t.Run("inference rate hot reloads camera", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.Start(context.Background()))
		require.NoError(t, h.ctrl.SetRate(ChannelInference, 24))
		assert.Equal(t, 24.0, h.camera.fps)
	})

	t.Run("resolution restarts running camera", func(t *testing.T) {
		h := newHarness(t, nil)
		require.NoError(t, h.ctrl.Start(context.Background()))
		require.NoError(t, h.ctrl.SetResolution(1280, 720))

		assert.Equal(t, 2, h.camera.starts)
		assert.Equal(t, 1, h.camera.stops)
		assert.Equal(t, 1280, h.camera.w)
		assert.Equal(t, Running, h.ctrl.State())
		assert.Error(t, h.ctrl.SetResolution(0, 720))
	})

	t.Run("debug toggles logger level", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.True(t, h.ctrl.ToggleDebug())
		assert.True(t, h.ctrl.Options().Debug)
		assert.False(t, h.ctrl.ToggleDebug())
	})

	debugCtrl := func(t *testing.T, level logrus.Level, debug bool) (*Controller, *logrus.Logger) {
		log := quietLogger()
		log.Logger.SetLevel(level)
		ctrl, err := NewController(Config{
			Rates:     DefaultRates(),
			Estimator: pose.DefaultEstimatorOptions(),
			Options:   Options{Debug: debug},
		}, Deps{Camera: &fakeCamera{}, Inference: &fakeInference{}, Log: log})
		require.NoError(t, err)
		return ctrl, log.Logger
	}

	t.Run("debug off after debug startup drops to info", func(t *testing.T) {
		ctrl, logger := debugCtrl(t, logrus.DebugLevel, true)
		require.Equal(t, logrus.DebugLevel, logger.GetLevel())

		assert.False(t, ctrl.ToggleDebug())
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
		assert.True(t, ctrl.ToggleDebug())
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})

	t.Run("debug off restores a quieter startup level", func(t *testing.T) {
		ctrl, logger := debugCtrl(t, logrus.WarnLevel, false)
		ctrl.SetDebug(true)
		require.Equal(t, logrus.DebugLevel, logger.GetLevel())
		ctrl.SetDebug(false)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	})

	t.Run("stop during resolution restart leaves camera stopped", func(t *testing.T) {
		h := newHarness(t, nil)
		entered := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		h.camera.stopHook = func() {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		require.NoError(t, h.ctrl.Start(context.Background()))

		resized := make(chan error, 1)
		go func() { resized <- h.ctrl.SetResolution(1280, 720) }()
		<-entered

		stopped := make(chan error, 1)
		go func() { stopped <- h.ctrl.Stop() }()
		assert.Never(t, func() bool { return len(stopped) > 0 }, 20*time.Millisecond, time.Millisecond,
			"stop must wait for the restart to finish")
		close(release)

		require.NoError(t, <-resized)
		require.NoError(t, <-stopped)
		assert.Equal(t, Stopped, h.ctrl.State())
		assert.False(t, h.camera.live())
	})

	t.Run("fps statistics", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Options.DispatchEnabled = false })
		require.NoError(t, h.ctrl.Start(context.Background()))
		base := h.clock.Now()
		for i := 0; i < 20; i++ {
			h.ctrl.OnInferenceResult(testFrame(), base.Add(time.Duration(i)*100*time.Millisecond))
		}
		snap := h.ctrl.Snapshot()
		assert.InDelta(t, 10, snap.FPS, 1e-9)
		assert.InDelta(t, 10, snap.MeanFPS, 1e-9)
		assert.InDelta(t, 0, snap.FPSStdDev, 1e-9)
		assert.Equal(t, uint64(20), snap.Counters.Results)
	})
}
