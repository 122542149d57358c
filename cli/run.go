package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/edmo-pose/api"
	"github.com/maastricht-university/edmo-pose/camera"
	"github.com/maastricht-university/edmo-pose/clients"
	"github.com/maastricht-university/edmo-pose/clock"
	"github.com/maastricht-university/edmo-pose/config"
	"github.com/maastricht-university/edmo-pose/orchestrator"
)

func newRunCmd(f *rootFlags) *cobra.Command {
	var idle bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the camera, inference and bridge pipeline and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, !idle)
		},
	}
	cmd.Flags().BoolVar(&idle, "idle", false, "serve the control API without starting the camera")
	return cmd
}

func run(ctx context.Context, cfg *config.Root, autostart bool) error {
	logger := cfg.NewLogger()
	log := logrus.NewEntry(logger).WithFields(logrus.Fields{
		"service": cfg.Pipeline.Name,
		"version": cfg.Pipeline.Version,
	})

	cam, err := newCamera(cfg, log)
	if err != nil {
		return err
	}
	estimator := clients.NewPoseEstimator(ctx, clients.NewHTTP(cfg.Inference.Timeout), cfg.Inference.URL, log)

	bridge, closeBridge, err := newBridge(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBridge()

	deps := orchestrator.Deps{
		Camera:    cam,
		Inference: estimator,
		Clock:     clock.Real{},
		Log:       log,
	}
	if bridge != nil {
		deps.Bridge = bridge
	}

	var rec *orchestrator.SessionRecorder
	if cfg.Record {
		rec, err = orchestrator.NewSessionRecorder(cfg.Paths.Outputs)
		if err != nil {
			return fmt.Errorf("session recorder: %w", err)
		}
		deps.Recorder = rec
		log.WithFields(logrus.Fields{"session": rec.SessionID(), "dir": rec.Dir()}).Info("recording dispatched payloads")
	}

	cc, err := cfg.ControllerConfig()
	if err != nil {
		return err
	}
	ctrl, err := orchestrator.NewController(cc, deps)
	if err != nil {
		return err
	}

	if autostart {
		if err := ctrl.Start(ctx); err != nil {
			return err
		}
	}

	srvErr := make(chan error, 1)
	if cfg.API.Listen != "" {
		srv := api.New(ctx, ctrl, log)
		go func() { srvErr <- srv.ListenAndServe(ctx, cfg.API.Listen) }()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-srvErr:
		log.WithError(err).Error("control api failed")
	}

	if stopErr := ctrl.Stop(); stopErr != nil {
		log.WithError(stopErr).Warn("controller stop failed")
	}
	estimator.Wait()
	if rec != nil {
		if cerr := rec.Close(); cerr != nil {
			log.WithError(cerr).Warn("close session recorder failed")
		}
	}
	snap := ctrl.Snapshot()
	log.WithFields(logrus.Fields{
		"frames":      snap.Counters.Frames,
		"inferences":  snap.Counters.Inferences,
		"sends":       snap.Counters.Sends,
		"send_errors": snap.Counters.SendErrors,
	}).Info("pipeline finished")
	return err
}

func newCamera(cfg *config.Root, log *logrus.Entry) (orchestrator.Camera, error) {
	switch cfg.Camera.Kind {
	case "synthetic":
		return camera.NewSynthetic(cfg.Camera.Width, cfg.Camera.Height, cfg.Rates.Inference, clock.Real{}, log), nil
	case "files":
		return camera.NewFiles(cfg.Camera.Dir, cfg.Rates.Inference, cfg.Camera.Loop, clock.Real{}, log), nil
	}
	return nil, fmt.Errorf("unknown camera kind %q", cfg.Camera.Kind)
}

// newBridge returns a nil Bridge for kind "none". The returned close func
// is always safe to call.
func newBridge(ctx context.Context, cfg *config.Root, log *logrus.Entry) (orchestrator.Bridge, func(), error) {
	b := cfg.Bridge
	switch b.Kind {
	case "none":
		return nil, func() {}, nil
	case "http":
		return clients.NewHTTPBridge(clients.NewHTTP(cfg.Inference.Timeout), b.URL), func() {}, nil
	case "websocket":
		ws := clients.NewWebSocketBridge(b.URL, b.Encoding, b.ReconnectInterval, log)
		go ws.Run(ctx)
		return ws, func() { _ = ws.Close() }, nil
	case "mqtt":
		mq := clients.NewMQTTBridge(b.URL, b.MQTT.ClientID, b.MQTT.Topic, b.MQTT.QoS, b.Encoding, log)
		if err := mq.Connect(ctx); err != nil {
			// paho keeps retrying in the background; Connected gates sends until then.
			log.WithError(err).Warn("mqtt bridge not yet connected")
		}
		return mq, func() { _ = mq.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown bridge kind %q", b.Kind)
}
