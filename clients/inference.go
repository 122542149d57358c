package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/edmo-pose/pose"
)

// --- Pose estimation (/pose) ---
type poseResp struct {
	Landmarks      []pose.Landmark `json:"poseLandmarks"`
	WorldLandmarks []pose.Landmark `json:"poseWorldLandmarks"`
}

// PoseEstimator is a client for a remote pose-estimation model. Send runs
// each request on its own goroutine and hands the result to the handler
// registered with OnResults; requests may overlap.
type PoseEstimator struct {
	http *HTTP
	url  string
	ctx  context.Context
	log  *logrus.Entry

	mu      sync.RWMutex
	opts    pose.EstimatorOptions
	handler func(pose.Frame)

	wg sync.WaitGroup
}

// NewPoseEstimator returns a client for the service at url. In-flight
// requests are cancelled when ctx is done.
func NewPoseEstimator(ctx context.Context, h *HTTP, url string, log *logrus.Entry) *PoseEstimator {
	return &PoseEstimator{
		http: h,
		url:  url,
		ctx:  ctx,
		log:  log.WithField("component", "inference"),
		opts: pose.DefaultEstimatorOptions(),
	}
}

func (p *PoseEstimator) OnResults(handler func(pose.Frame)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (p *PoseEstimator) SetOptions(opts pose.EstimatorOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	p.log.WithField("complexity", opts.Complexity).Debug("estimator options set")
	return nil
}

func (p *PoseEstimator) Options() pose.EstimatorOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// Send submits img without waiting for the result.
func (p *PoseEstimator) Send(img pose.Image) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		frame, err := p.Estimate(p.ctx, img)
		if err != nil {
			p.log.WithError(err).WithField("seq", img.Seq).Warn("pose estimation failed")
			return
		}
		p.mu.RLock()
		h := p.handler
		p.mu.RUnlock()
		if h != nil {
			h(*frame)
		}
	}()
	return nil
}

// Wait blocks until every submitted request has finished.
func (p *PoseEstimator) Wait() { p.wg.Wait() }

// Estimate posts one image and waits for its landmarks.
func (p *PoseEstimator) Estimate(ctx context.Context, img pose.Image) (*pose.Frame, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	opts, err := json.Marshal(p.Options())
	if err != nil {
		return nil, err
	}
	if err = w.WriteField("options", string(opts)); err != nil {
		return nil, err
	}
	fw, err := w.CreateFormFile("image", fmt.Sprintf("frame_%d", img.Seq))
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(img.Data); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/pose", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.http.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pose %s: %s", resp.Status, string(body))
	}

	var out poseResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pose decode: %w", err)
	}
	return &pose.Frame{
		Landmarks:      out.Landmarks,
		WorldLandmarks: out.WorldLandmarks,
		Image:          &img,
	}, nil
}
