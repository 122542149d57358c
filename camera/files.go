package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/edmo-pose/clock"
	"github.com/maastricht-university/edmo-pose/pose"
)

var imageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Files replays the images of a directory in name order, as recorded
// sessions or test fixtures. With repeat set it wraps around at the end,
// otherwise delivery stops after the last file.
type Files struct {
	loop

	dir    string
	repeat bool
	paths  []string
	base   uint64 // seq of the first frame of the current replay
	width  int
	height int
}

func NewFiles(dir string, fps float64, repeat bool, c clock.Clock, log *logrus.Entry) *Files {
	f := &Files{dir: dir, repeat: repeat}
	f.init(c, fps, log.WithField("component", "camera"))
	return f
}

func (f *Files) Start(ctx context.Context, onFrame func(pose.Image)) error {
	if f.Stats().Running {
		return ErrAlreadyStarted
	}
	paths, err := listImages(f.dir)
	if err != nil {
		return err
	}
	f.paths = paths
	f.base = f.loop.nextSeq()
	if cfg, err := decodeConfig(paths[0]); err == nil {
		f.width, f.height = cfg.Width, cfg.Height
	}
	if err := f.loop.start(ctx, f.next, onFrame); err != nil {
		return err
	}
	f.log.WithFields(logrus.Fields{
		"dir":    f.dir,
		"frames": len(paths),
		"fps":    f.TargetFPS(),
	}).Info("file camera starting")
	return nil
}

func (f *Files) Stop() error { return f.loop.stop() }

func (f *Files) Stats() Stats { return f.loop.stats(f.width, f.height) }

func (f *Files) next(seq uint64, at time.Time) (pose.Image, bool) {
	n := uint64(len(f.paths))
	i := seq - f.base
	if !f.repeat && i >= n {
		return pose.Image{}, false
	}
	path := f.paths[i%n]
	data, err := os.ReadFile(path)
	if err != nil {
		f.log.WithError(err).WithField("path", path).Warn("frame read failed")
	}
	return pose.Image{
		Seq:       seq,
		Timestamp: at,
		Width:     f.width,
		Height:    f.height,
		Data:      data,
		TraceID:   uuid.New().String(),
	}, true
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("file camera: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("file camera %s: %w", dir, ErrNoFrames)
	}
	sort.Strings(out)
	return out, nil
}

func decodeConfig(path string) (image.Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer fh.Close()
	cfg, _, err := image.DecodeConfig(fh)
	return cfg, err
}
