// Package camera provides frame sources for the controller. Sources deliver
// frames from their own goroutine at a target rate that can be changed while
// running.
package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/edmo-pose/clock"
	"github.com/maastricht-university/edmo-pose/pose"
)

var (
	ErrAlreadyStarted = errors.New("camera already started")
	ErrInvalidFPS     = errors.New("invalid target frame rate")
	ErrNoFrames       = errors.New("no frames available")
)

// Stats describes a source's delivery so far.
type Stats struct {
	Running       bool      `json:"running"`
	FramesEmitted uint64    `json:"frames_emitted"`
	TargetFPS     float64   `json:"target_fps"`
	Resolution    string    `json:"resolution"`
	StartedAt     time.Time `json:"started_at,omitempty"`
}

// producer builds the image for one tick. ok=false ends the stream.
type producer func(seq uint64, at time.Time) (img pose.Image, ok bool)

// loop is the ticker-driven delivery shared by every source.
type loop struct {
	clock clock.Clock
	log   *logrus.Entry

	mu        sync.Mutex
	fps       float64
	running   bool
	ticker    clock.Ticker
	stopCh    chan struct{}
	done      chan struct{}
	seq       uint64
	emitted   uint64
	startedAt time.Time
}

func (l *loop) init(c clock.Clock, fps float64, log *logrus.Entry) {
	if c == nil {
		c = clock.Real{}
	}
	l.clock, l.fps, l.log = c, fps, log
}

func frameInterval(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

func validFPS(fps float64) bool {
	return !math.IsNaN(fps) && fps > 0 && !math.IsInf(fps, 0)
}

// SetTargetFPS changes the delivery rate. A running source picks the new
// rate up on its next tick.
func (l *loop) SetTargetFPS(fps float64) error {
	if !validFPS(fps) {
		return fmt.Errorf("%w: %v", ErrInvalidFPS, fps)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fps = fps
	if l.ticker != nil {
		l.ticker.Reset(frameInterval(fps))
	}
	return nil
}

func (l *loop) TargetFPS() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fps
}

func (l *loop) start(ctx context.Context, next producer, onFrame func(pose.Image)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyStarted
	}
	if !validFPS(l.fps) {
		return fmt.Errorf("%w: %v", ErrInvalidFPS, l.fps)
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	l.ticker = l.clock.NewTicker(frameInterval(l.fps))
	l.startedAt = l.clock.Now()
	l.emitted = 0

	go l.run(ctx, l.ticker, l.stopCh, l.done, next, onFrame)
	return nil
}

// run delivers frames until stopped, ctx is done or the producer runs dry.
// Exiting on its own clears running so the source can be started again.
func (l *loop) run(ctx context.Context, t clock.Ticker, stop chan struct{}, done chan<- struct{}, next producer, onFrame func(pose.Image)) {
	defer close(done)
	defer func() {
		t.Stop()
		l.mu.Lock()
		if l.running && l.stopCh == stop {
			l.running = false
			l.ticker = nil
		}
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case at := <-t.C():
			l.mu.Lock()
			seq := l.seq
			l.seq++
			l.mu.Unlock()

			img, ok := next(seq, at)
			if !ok {
				l.log.WithField("seq", seq).Info("frame source exhausted")
				return
			}
			onFrame(img)

			l.mu.Lock()
			l.emitted++
			l.mu.Unlock()
		}
	}
}

func (l *loop) stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.ticker = nil
	close(l.stopCh)
	done := l.done
	l.mu.Unlock()

	<-done

	l.mu.Lock()
	emitted, started := l.emitted, l.startedAt
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"frames_emitted": emitted,
		"duration":       l.clock.Since(started),
	}).Info("camera stopped")
	return nil
}

func (l *loop) nextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func (l *loop) stats(width, height int) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Running:       l.running,
		FramesEmitted: l.emitted,
		TargetFPS:     l.fps,
		Resolution:    fmt.Sprintf("%dx%d", width, height),
		StartedAt:     l.startedAt,
	}
}
