package pose

// BuildPayload copies the world landmarks of f into a new Payload, negating
// x and y when flipXY is set, and attaches arm angles when image-space
// landmarks are present. It reports false when f has no world landmarks.
func BuildPayload(f Frame, flipXY bool) (Payload, bool) {
	if len(f.WorldLandmarks) == 0 {
		return Payload{}, false
	}

	out := Payload{Landmarks: make([]Landmark, len(f.WorldLandmarks))}
	for i, l := range f.WorldLandmarks {
		if flipXY {
			l.X, l.Y = -l.X, -l.Y
		}
		out.Landmarks[i] = l
	}

	if len(f.Landmarks) > 0 {
		if angles, ok := ComputeArmAngles(f.Landmarks); ok {
			out.ArmAngles = &angles
		}
	}
	return out, true
}

// Connection is a pair of landmark indices joined by a bone.
type Connection struct{ From, To int }

// Connections is the fixed skeleton topology drawn over the video.
var Connections = []Connection{
	{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8}, {9, 10},
	{11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21}, {17, 19},
	{12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
	{11, 23}, {12, 24}, {23, 24}, {23, 25}, {24, 26}, {25, 27}, {26, 28},
	{27, 29}, {28, 30}, {29, 31}, {30, 32}, {27, 31}, {28, 32},
}

// Style is a stroke color and width for the drawing utilities.
type Style struct {
	Color     string
	LineWidth int
}

var (
	ConnectorStyle = Style{Color: "#00FF00", LineWidth: 3}
	LandmarkStyle  = Style{Color: "#FF0000", LineWidth: 1}
)
