package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/edmo-pose/clock"
	"github.com/maastricht-university/edmo-pose/pose"
)

type fakeCamera struct {
	mu       sync.Mutex
	startErr error
	onFrame  FrameFunc
	starts   int
	stops    int
	fps      float64
	w, h     int
	stopHook func() // runs inside Stop, before the stop is counted
}

func (c *fakeCamera) Start(_ context.Context, onFrame FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	c.onFrame = onFrame
	return nil
}

func (c *fakeCamera) Stop() error {
	if c.stopHook != nil {
		c.stopHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

// live reports whether more starts than stops have reached the camera.
func (c *fakeCamera) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts > c.stops
}

func (c *fakeCamera) SetTargetFPS(fps float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
	return nil
}

func (c *fakeCamera) SetResolution(w, h int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w, c.h = w, h
	return nil
}

// fakeInference answers every Send synchronously with frame when instant is set.
type fakeInference struct {
	mu      sync.Mutex
	handler func(pose.Frame)
	opts    []pose.EstimatorOptions
	optErr  error
	sends   int
	instant bool
	frame   pose.Frame
}

func (f *fakeInference) OnResults(h func(pose.Frame)) { f.handler = h }

func (f *fakeInference) SetOptions(o pose.EstimatorOptions) error {
	if f.optErr != nil {
		return f.optErr
	}
	f.mu.Lock()
	f.opts = append(f.opts, o)
	f.mu.Unlock()
	return nil
}

func (f *fakeInference) Send(pose.Image) error {
	f.mu.Lock()
	f.sends++
	instant, frame := f.instant, f.frame
	f.mu.Unlock()
	if instant {
		f.handler(frame)
	}
	return nil
}

func (f *fakeInference) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type sentMessage struct{ target, method, payload string }

type fakeBridge struct {
	mu        sync.Mutex
	connected bool
	err       error
	panics    bool
	msgs      []sentMessage
	probes    int
}

func (b *fakeBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes++
	return b.connected
}

func (b *fakeBridge) Send(target, method, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.panics {
		panic("engine gone")
	}
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, sentMessage{target, method, payload})
	return nil
}

func (b *fakeBridge) sent() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.msgs...)
}

type fakeRenderer struct {
	video, skeleton int
}

func (r *fakeRenderer) DrawVideo(pose.Image) { r.video++ }
func (r *fakeRenderer) DrawSkeleton([]pose.Landmark, []pose.Connection, pose.Style, pose.Style) {
	r.skeleton++
}

type fakeRecorder struct {
	payloads []pose.Payload
}

func (r *fakeRecorder) Record(p pose.Payload, _ time.Time) error {
	r.payloads = append(r.payloads, p)
	return nil
}
func (r *fakeRecorder) Close() error { return nil }

var errDenied = errors.New("permission denied")

func testFrame() pose.Frame {
	f := pose.Frame{
		Landmarks:      make([]pose.Landmark, pose.NumLandmarks),
		WorldLandmarks: make([]pose.Landmark, pose.NumLandmarks),
	}
	for i := range f.Landmarks {
		f.Landmarks[i] = pose.Landmark{X: float32(i) / 40, Y: float32(i%7) / 7, Visibility: 0.9}
		f.WorldLandmarks[i] = pose.Landmark{X: float32(i) / 100, Y: -float32(i) / 50, Z: 0.1, Visibility: 0.8}
	}
	return f
}

type harness struct {
	ctrl     *Controller
	camera   *fakeCamera
	infer    *fakeInference
	bridge   *fakeBridge
	renderer *fakeRenderer
	recorder *fakeRecorder
	clock    *clock.Mock
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		camera:   &fakeCamera{},
		infer:    &fakeInference{frame: testFrame()},
		bridge:   &fakeBridge{connected: true},
		renderer: &fakeRenderer{},
		recorder: &fakeRecorder{},
		clock:    clock.NewMock(time.Unix(1_700_000_000, 0)),
	}
	cfg := Config{
		Rates:     DefaultRates(),
		Estimator: pose.DefaultEstimatorOptions(),
		Options:   DefaultOptions(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := NewController(cfg, Deps{
		Camera:    h.camera,
		Inference: h.infer,
		Renderer:  h.renderer,
		Bridge:    h.bridge,
		Recorder:  h.recorder,
		Clock:     h.clock,
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}
