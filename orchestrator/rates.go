package orchestrator

import (
	"fmt"
	"math"
	"time"
)

// Channel names one of the four independent cadences.
type Channel string

const (
	// ChannelCapture gates how often a delivered camera frame goes to inference.
	ChannelCapture Channel = "capture"
	// ChannelInference is the delivery rate requested from the camera.
	ChannelInference Channel = "inference"
	// ChannelRedraw gates skeleton overlay redraws.
	ChannelRedraw Channel = "redraw"
	// ChannelDispatch gates sends to the bridge.
	ChannelDispatch Channel = "dispatch"
)

var Channels = []Channel{ChannelCapture, ChannelInference, ChannelRedraw, ChannelDispatch}

const MaxRate = 60.0

// RateConfig holds the four cadences in frames (or messages) per second.
type RateConfig struct {
	Capture   float64 `json:"capture" yaml:"capture" mapstructure:"capture"`
	Inference float64 `json:"inference" yaml:"inference" mapstructure:"inference"`
	Redraw    float64 `json:"redraw" yaml:"redraw" mapstructure:"redraw"`
	Dispatch  float64 `json:"dispatch" yaml:"dispatch" mapstructure:"dispatch"`
}

func DefaultRates() RateConfig {
	return RateConfig{Capture: 30, Inference: 30, Redraw: 15, Dispatch: 30}
}

// ValidRate reports whether fps lies in (0, 60].
func ValidRate(fps float64) bool {
	return !math.IsNaN(fps) && fps > 0 && fps <= MaxRate
}

// Interval is the minimum spacing between two events at fps.
func Interval(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

func (r *RateConfig) field(ch Channel) (*float64, error) {
	switch ch {
	case ChannelCapture:
		return &r.Capture, nil
	case ChannelInference:
		return &r.Inference, nil
	case ChannelRedraw:
		return &r.Redraw, nil
	case ChannelDispatch:
		return &r.Dispatch, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
}

func (r RateConfig) Get(ch Channel) (float64, error) {
	f, err := r.field(ch)
	if err != nil {
		return 0, err
	}
	return *f, nil
}

// Set updates one cadence. Out-of-range values leave r untouched.
func (r *RateConfig) Set(ch Channel, fps float64) error {
	f, err := r.field(ch)
	if err != nil {
		return err
	}
	if !ValidRate(fps) {
		return fmt.Errorf("%w: %s=%v", ErrInvalidRate, ch, fps)
	}
	*f = fps
	return nil
}

// Interval returns the derived interval of ch, or zero for an unknown channel.
func (r RateConfig) Interval(ch Channel) time.Duration {
	fps, err := r.Get(ch)
	if err != nil || !ValidRate(fps) {
		return 0
	}
	return Interval(fps)
}

func (r RateConfig) Validate() error {
	for _, ch := range Channels {
		fps, _ := r.Get(ch)
		if !ValidRate(fps) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidRate, ch, fps)
		}
	}
	return nil
}

// due is the gate check: never fired, or at least interval since last.
func due(now, last time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= interval
}
