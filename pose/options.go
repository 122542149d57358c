package pose

import "fmt"

// EstimatorOptions configures the external pose-estimation service.
type EstimatorOptions struct {
	Complexity             int     `json:"modelComplexity"`
	Smoothing              bool    `json:"smoothLandmarks"`
	MinDetectionConfidence float64 `json:"minDetectionConfidence"`
	MinTrackingConfidence  float64 `json:"minTrackingConfidence"`
}

func DefaultEstimatorOptions() EstimatorOptions {
	return EstimatorOptions{
		Complexity:             0,
		Smoothing:              true,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}

func (o EstimatorOptions) Validate() error {
	if o.Complexity != 0 && o.Complexity != 1 {
		return fmt.Errorf("model complexity must be 0 or 1, got %d", o.Complexity)
	}
	if o.MinDetectionConfidence < 0 || o.MinDetectionConfidence > 1 {
		return fmt.Errorf("min detection confidence %.2f outside [0,1]", o.MinDetectionConfidence)
	}
	if o.MinTrackingConfidence < 0 || o.MinTrackingConfidence > 1 {
		return fmt.Errorf("min tracking confidence %.2f outside [0,1]", o.MinTrackingConfidence)
	}
	return nil
}
