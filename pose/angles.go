package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Angle returns the planar angle at vertex b formed by the rays b→a and b→c,
// in degrees within [0, 180]. Depth is ignored.
//
// A zero-length ray has bearing atan2(0, 0) = 0, so when a or c coincides
// with b the result is the other ray's absolute bearing.
func Angle(a, b, c Landmark) float64 {
	vb := planar(b)
	ba := r2.Sub(planar(a), vb)
	bc := r2.Sub(planar(c), vb)

	rad := math.Atan2(bc.Y, bc.X) - math.Atan2(ba.Y, ba.X)
	deg := math.Abs(rad * 180.0 / math.Pi)
	if deg > 180.0 {
		deg = 360.0 - deg
	}
	return deg
}

func planar(l Landmark) r2.Vec {
	return r2.Vec{X: float64(l.X), Y: float64(l.Y)}
}

// ComputeArmAngles derives elbow and shoulder angles from image-space
// landmarks. It reports false when the set is too short to hold the hips.
func ComputeArmAngles(lm []Landmark) (ArmAngles, bool) {
	if len(lm) <= RightHip {
		return ArmAngles{}, false
	}
	return ArmAngles{
		LeftElbow:     Angle(lm[LeftShoulder], lm[LeftElbow], lm[LeftWrist]),
		RightElbow:    Angle(lm[RightShoulder], lm[RightElbow], lm[RightWrist]),
		LeftShoulder:  Angle(lm[LeftHip], lm[LeftShoulder], lm[LeftElbow]),
		RightShoulder: Angle(lm[RightHip], lm[RightShoulder], lm[RightElbow]),
	}, true
}
