package orchestrator

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

const fpsWindow = 30

// fpsMeter tracks the inference result rate. The instantaneous value is
// the inverse of the last gap; mean and spread cover the last fpsWindow gaps.
type fpsMeter struct {
	last    time.Time
	current float64
	samples []float64
	next    int
}

func (m *fpsMeter) observe(now time.Time) {
	if m.last.IsZero() {
		m.last = now
		return
	}
	delta := now.Sub(m.last)
	m.last = now
	if delta <= 0 {
		return
	}
	m.current = float64(time.Second) / float64(delta)

	if len(m.samples) < fpsWindow {
		m.samples = append(m.samples, m.current)
		return
	}
	m.samples[m.next] = m.current
	m.next = (m.next + 1) % fpsWindow
}

func (m *fpsMeter) stats() (mean, stddev float64) {
	switch len(m.samples) {
	case 0:
		return 0, 0
	case 1:
		return m.samples[0], 0
	}
	return stat.MeanStdDev(m.samples, nil)
}
