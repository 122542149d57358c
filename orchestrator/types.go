package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/maastricht-university/edmo-pose/pose"
)

var (
	ErrInvalidRate       = errors.New("rate must be in (0, 60] fps")
	ErrUnknownChannel    = errors.New("unknown rate channel")
	ErrUnknownProfile    = errors.New("unknown performance profile")
	ErrAlreadyRunning    = errors.New("controller already running")
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrUnsupported       = errors.New("not supported by camera")
)

// FrameFunc receives frames from a camera at the camera's own cadence.
type FrameFunc = func(img pose.Image)

// Camera is the frame source. Stop must be idempotent.
type Camera interface {
	Start(ctx context.Context, onFrame FrameFunc) error
	Stop() error
}

// FrameRateSetter is implemented by cameras that accept a target delivery
// rate without a restart.
type FrameRateSetter interface {
	SetTargetFPS(fps float64) error
}

// Resizer is implemented by cameras whose capture resolution can change.
// The controller restarts a running camera around the call.
type Resizer interface {
	SetResolution(width, height int) error
}

// Inference is the pose-estimation service. Send must return without
// waiting for the result; results arrive on the handler registered with
// OnResults.
type Inference interface {
	OnResults(handler func(pose.Frame))
	SetOptions(opts pose.EstimatorOptions) error
	Send(img pose.Image) error
}

// Renderer paints the debug view. Implementations keep no state between calls.
type Renderer interface {
	DrawVideo(img pose.Image)
	DrawSkeleton(landmarks []pose.Landmark, connections []pose.Connection, connector, point pose.Style)
}

// Bridge is the engine endpoint. Connected is a cheap existence probe.
type Bridge interface {
	Connected() bool
	Send(target, method, payload string) error
}

// Recorder keeps a copy of every dispatched payload.
type Recorder interface {
	Record(p pose.Payload, at time.Time) error
	Close() error
}

// Options are the display and dispatch switches of a controller.
type Options struct {
	ShowVideo       bool       `json:"show_video"`
	ShowSkeleton    bool       `json:"show_skeleton"`
	RedrawGated     bool       `json:"redraw_gated"`
	DispatchEnabled bool       `json:"dispatch_enabled"`
	FlipWorldXY     bool       `json:"flip_world_xy"`
	Target          string     `json:"target"`
	Method          string     `json:"method"`
	Debug           bool       `json:"debug"`
	Codec           pose.Codec `json:"-"`
}

func DefaultOptions() Options {
	return Options{
		ShowVideo:       true,
		ShowSkeleton:    true,
		RedrawGated:     true,
		DispatchEnabled: true,
		FlipWorldXY:     true,
		Target:          "PoseManager",
		Method:          "UpdatePoseData",
		Codec:           pose.JSON,
	}
}

type State string

const (
	Stopped State = "stopped"
	Running State = "running"
)

// Counters are cumulative since construction.
type Counters struct {
	Frames        uint64 `json:"frames"`
	VideoDraws    uint64 `json:"video_draws"`
	SkeletonDraws uint64 `json:"skeleton_draws"`
	Inferences    uint64 `json:"inferences"`
	InferErrors   uint64 `json:"inference_errors"`
	Results       uint64 `json:"results"`
	LateResults   uint64 `json:"late_results"`
	Sends         uint64 `json:"sends"`
	SendErrors    uint64 `json:"send_errors"`
}

// Snapshot is a point-in-time view of the controller for the control surface.
type Snapshot struct {
	State           State                 `json:"state"`
	Profile         string                `json:"profile"`
	Rates           RateConfig            `json:"rates"`
	Estimator       pose.EstimatorOptions `json:"estimator"`
	Options         Options               `json:"options"`
	Counters        Counters              `json:"counters"`
	FPS             float64               `json:"fps"`
	MeanFPS         float64               `json:"mean_fps"`
	FPSStdDev       float64               `json:"fps_stddev"`
	BridgeConnected bool                  `json:"bridge_connected"`
	LastResultAt    time.Time             `json:"last_result_at,omitempty"`
	LastSentAt      time.Time             `json:"last_sent_at,omitempty"`
}

type nopRenderer struct{}

func (nopRenderer) DrawVideo(pose.Image) {}
func (nopRenderer) DrawSkeleton([]pose.Landmark, []pose.Connection, pose.Style, pose.Style) {
}
