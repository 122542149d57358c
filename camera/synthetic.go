package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/edmo-pose/clock"
	"github.com/maastricht-university/edmo-pose/pose"
)

// Synthetic generates JPEG test frames without a capture device. Each frame
// is a gradient that shifts with the sequence number so consecutive frames
// differ.
type Synthetic struct {
	loop

	sizeMu sync.RWMutex
	width  int
	height int
}

func NewSynthetic(width, height int, fps float64, c clock.Clock, log *logrus.Entry) *Synthetic {
	s := &Synthetic{width: width, height: height}
	s.init(c, fps, log.WithField("component", "camera"))
	return s
}

func (s *Synthetic) Start(ctx context.Context, onFrame func(pose.Image)) error {
	w, h := s.size()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("synthetic camera: invalid resolution %dx%d", w, h)
	}
	if err := s.loop.start(ctx, s.createFrame, onFrame); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"width":  w,
		"height": h,
		"fps":    s.TargetFPS(),
	}).Info("synthetic camera starting")
	return nil
}

func (s *Synthetic) Stop() error { return s.loop.stop() }

// SetResolution takes effect on the next frame.
func (s *Synthetic) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("synthetic camera: invalid resolution %dx%d", width, height)
	}
	s.sizeMu.Lock()
	s.width, s.height = width, height
	s.sizeMu.Unlock()
	return nil
}

func (s *Synthetic) Stats() Stats {
	w, h := s.size()
	return s.loop.stats(w, h)
}

func (s *Synthetic) size() (int, int) {
	s.sizeMu.RLock()
	defer s.sizeMu.RUnlock()
	return s.width, s.height
}

func (s *Synthetic) createFrame(seq uint64, at time.Time) (pose.Image, bool) {
	w, h := s.size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := int(seq % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x*255/w + shift) % 256),
				G: uint8(y * 255 / h),
				B: uint8(shift),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		s.log.WithError(err).Warn("synthetic frame encode failed")
		return pose.Image{Seq: seq, Timestamp: at, Width: w, Height: h, TraceID: uuid.New().String()}, true
	}

	return pose.Image{
		Seq:       seq,
		Timestamp: at,
		Width:     w,
		Height:    h,
		Data:      buf.Bytes(),
		TraceID:   uuid.New().String(),
	}, true
}
