// Package api exposes the controller's runtime controls over HTTP: start
// and stop, per-channel rates, performance profiles, display switches and
// the last dispatched pose.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/edmo-pose/orchestrator"
	"github.com/maastricht-university/edmo-pose/pose"
)

// Controller is the part of *orchestrator.Controller the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	SetRate(ch orchestrator.Channel, fps float64) error
	Rates() orchestrator.RateConfig
	SetPerformanceProfile(name string) error
	Profile() string
	ProfileNames() []string
	SetResolution(width, height int) error
	SetShowVideo(on bool)
	SetShowSkeleton(on bool)
	SetDispatchEnabled(on bool)
	ToggleDispatch() bool
	SetDebug(on bool)
	ToggleDebug() bool
	Options() orchestrator.Options
	LastPose() *pose.Payload
	CurrentFPS() float64
	Snapshot() orchestrator.Snapshot
}

type Server struct {
	ctrl Controller
	// runCtx outlives individual requests; the camera started by POST
	// /start keeps running after the response is written.
	runCtx context.Context
	log    *logrus.Entry
	mux    *http.ServeMux
}

func New(runCtx context.Context, ctrl Controller, log *logrus.Entry) *Server {
	s := &Server{
		ctrl:   ctrl,
		runCtx: runCtx,
		log:    log.WithField("component", "api"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /start", s.handleStart)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("GET /rates", s.handleRates)
	s.mux.HandleFunc("PUT /rates/{channel}", s.handleSetRate)
	s.mux.HandleFunc("GET /profiles", s.handleProfiles)
	s.mux.HandleFunc("PUT /profile", s.handleSetProfile)
	s.mux.HandleFunc("PUT /resolution", s.handleResolution)
	s.mux.HandleFunc("PUT /display", s.handleDisplay)
	s.mux.HandleFunc("POST /toggle/send", s.handleToggleSend)
	s.mux.HandleFunc("POST /toggle/debug", s.handleToggleDebug)
	s.mux.HandleFunc("GET /pose", s.handlePose)
	s.mux.HandleFunc("GET /fps", s.handleFPS)
	s.mux.HandleFunc("GET /config", s.handleConfig)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"duration": time.Since(start),
	}).Debug("request")
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("control api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type stateResp struct {
	State orchestrator.State `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(s.runCtx); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSONOK(w, stateResp{State: orchestrator.Running})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSONOK(w, stateResp{State: orchestrator.Stopped})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, s.ctrl.Snapshot())
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, s.ctrl.Rates())
}

type rateReq struct {
	FPS *float64 `json:"fps"`
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req rateReq
	if err := decode(r, &req); err != nil || req.FPS == nil {
		BadRequest(w, "body must be {\"fps\": <number>}")
		return
	}
	if err := s.ctrl.SetRate(orchestrator.Channel(r.PathValue("channel")), *req.FPS); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSONOK(w, s.ctrl.Rates())
}

type profilesResp struct {
	Current string   `json:"current"`
	Names   []string `json:"names"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, profilesResp{Current: s.ctrl.Profile(), Names: s.ctrl.ProfileNames()})
}

type profileReq struct {
	Name string `json:"name"`
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var req profileReq
	if err := decode(r, &req); err != nil || req.Name == "" {
		BadRequest(w, "body must be {\"name\": <profile>}")
		return
	}
	if err := s.ctrl.SetPerformanceProfile(req.Name); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSONOK(w, s.ctrl.Snapshot())
}

type resolutionReq struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleResolution(w http.ResponseWriter, r *http.Request) {
	var req resolutionReq
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		BadRequest(w, "width and height must be positive")
		return
	}
	if err := s.ctrl.SetResolution(req.Width, req.Height); err != nil {
		writeErr(w, err)
		return
	}
	WriteJSONOK(w, req)
}

type displayReq struct {
	ShowVideo    *bool `json:"show_video"`
	ShowSkeleton *bool `json:"show_skeleton"`
	Dispatch     *bool `json:"dispatch_enabled"`
	Debug        *bool `json:"debug"`
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayReq
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if req.ShowVideo != nil {
		s.ctrl.SetShowVideo(*req.ShowVideo)
	}
	if req.ShowSkeleton != nil {
		s.ctrl.SetShowSkeleton(*req.ShowSkeleton)
	}
	if req.Dispatch != nil {
		s.ctrl.SetDispatchEnabled(*req.Dispatch)
	}
	if req.Debug != nil {
		s.ctrl.SetDebug(*req.Debug)
	}
	WriteJSONOK(w, s.ctrl.Options())
}

type toggleResp struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleToggleSend(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, toggleResp{Enabled: s.ctrl.ToggleDispatch()})
}

func (s *Server) handleToggleDebug(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, toggleResp{Enabled: s.ctrl.ToggleDebug()})
}

func (s *Server) handlePose(w http.ResponseWriter, r *http.Request) {
	p := s.ctrl.LastPose()
	if p == nil {
		WriteJSONError(w, http.StatusNotFound, "no pose dispatched yet")
		return
	}
	WriteJSONOK(w, p)
}

func (s *Server) handleFPS(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]float64{"fps": s.ctrl.CurrentFPS()})
}

type configResp struct {
	Rates   orchestrator.RateConfig `json:"rates"`
	Profile string                  `json:"profile"`
	Options orchestrator.Options    `json:"options"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, configResp{Rates: s.ctrl.Rates(), Profile: s.ctrl.Profile(), Options: s.ctrl.Options()})
}
