// Package pose holds the landmark model shared by the controller, the
// inference client and the bridges, plus the arm-angle derivation that
// turns a raw frame into the payload the engine consumes.
package pose

import "time"

// Body landmark indices (33-point topology).
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftElbow     = 13
	RightElbow    = 14
	LeftWrist     = 15
	RightWrist    = 16
	LeftHip       = 23
	RightHip      = 24
	NumLandmarks  = 33
)

type Landmark struct {
	X          float32 `json:"x" msgpack:"x"`
	Y          float32 `json:"y" msgpack:"y"`
	Z          float32 `json:"z" msgpack:"z"`
	Visibility float32 `json:"visibility" msgpack:"visibility"`
}

// Image is an opaque camera frame handed through to the inference service.
type Image struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"data,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// Frame is the result of one inference call. Landmarks are in normalized
// image space, WorldLandmarks in metric world space.
type Frame struct {
	Landmarks      []Landmark `json:"poseLandmarks,omitempty"`
	WorldLandmarks []Landmark `json:"poseWorldLandmarks,omitempty"`
	Image          *Image     `json:"-"`
}

type ArmAngles struct {
	LeftElbow     float64 `json:"leftElbow" msgpack:"leftElbow"`
	RightElbow    float64 `json:"rightElbow" msgpack:"rightElbow"`
	LeftShoulder  float64 `json:"leftShoulder" msgpack:"leftShoulder"`
	RightShoulder float64 `json:"rightShoulder" msgpack:"rightShoulder"`
}

// Payload is what gets sent to the engine. It is built fresh for every send.
type Payload struct {
	Landmarks []Landmark `json:"landmarks" msgpack:"landmarks"`
	ArmAngles *ArmAngles `json:"armAngles,omitempty" msgpack:"armAngles,omitempty"`
}
