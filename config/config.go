package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/edmo-pose/orchestrator"
	"github.com/maastricht-university/edmo-pose/pose"
)

// EnvPrefix is prepended to every environment override, e.g.
// EDMO_POSE_RATES_DISPATCH=15 or EDMO_POSE_BRIDGE_URL=ws://engine:8080/ws.
const EnvPrefix = "EDMO_POSE"

// Camera selects the frame source. Its target rate is rates.inference.
type Camera struct {
	Kind   string `yaml:"kind" mapstructure:"kind"`
	Width  int    `yaml:"width" mapstructure:"width"`
	Height int    `yaml:"height" mapstructure:"height"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Loop   bool   `yaml:"loop" mapstructure:"loop"`
}

type Inference struct {
	URL                    string        `yaml:"url" mapstructure:"url"`
	Complexity             int           `yaml:"complexity" mapstructure:"complexity"`
	Smoothing              bool          `yaml:"smoothing" mapstructure:"smoothing"`
	MinDetectionConfidence float64       `yaml:"min_detection_confidence" mapstructure:"min_detection_confidence"`
	MinTrackingConfidence  float64       `yaml:"min_tracking_confidence" mapstructure:"min_tracking_confidence"`
	Timeout                time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type Display struct {
	ShowVideo    bool `yaml:"show_video" mapstructure:"show_video"`
	ShowSkeleton bool `yaml:"show_skeleton" mapstructure:"show_skeleton"`
	RedrawGated  bool `yaml:"redraw_gated" mapstructure:"redraw_gated"`
}

type Dispatch struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	FlipWorldXY bool   `yaml:"flip_world_xy" mapstructure:"flip_world_xy"`
	Target      string `yaml:"target" mapstructure:"target"`
	Method      string `yaml:"method" mapstructure:"method"`
}

type MQTT struct {
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	QoS      byte   `yaml:"qos" mapstructure:"qos"`
}

type Bridge struct {
	Kind              string        `yaml:"kind" mapstructure:"kind"`
	URL               string        `yaml:"url" mapstructure:"url"`
	Encoding          string        `yaml:"encoding" mapstructure:"encoding"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
	MQTT              MQTT          `yaml:"mqtt" mapstructure:"mqtt"`
}

type API struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

type Root struct {
	Pipeline struct {
		Name      string `yaml:"name" mapstructure:"name"`
		Version   string `yaml:"version" mapstructure:"version"`
		LogLvl    string `yaml:"log_level" mapstructure:"log_level"`
		LogFormat string `yaml:"log_format" mapstructure:"log_format"`
	} `yaml:"pipeline" mapstructure:"pipeline"`
	Camera          Camera                  `yaml:"camera" mapstructure:"camera"`
	Inference       Inference               `yaml:"inference" mapstructure:"inference"`
	Rates           orchestrator.RateConfig `yaml:"rates" mapstructure:"rates"`
	Display         Display                 `yaml:"display" mapstructure:"display"`
	Dispatch        Dispatch                `yaml:"dispatch" mapstructure:"dispatch"`
	Bridge          Bridge                  `yaml:"bridge" mapstructure:"bridge"`
	Profiles        orchestrator.Profiles   `yaml:"profiles" mapstructure:"profiles"`
	PerformanceMode string                  `yaml:"performance_mode" mapstructure:"performance_mode"`
	API             API                     `yaml:"api" mapstructure:"api"`
	Paths           struct {
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
	Record bool `yaml:"record" mapstructure:"record"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "edmo-pose")
	v.SetDefault("pipeline.version", "0.1.0")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")

	v.SetDefault("camera.kind", "synthetic")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 360)
	v.SetDefault("camera.dir", "")
	v.SetDefault("camera.loop", true)

	est := pose.DefaultEstimatorOptions()
	v.SetDefault("inference.url", "http://localhost:8001")
	v.SetDefault("inference.complexity", est.Complexity)
	v.SetDefault("inference.smoothing", est.Smoothing)
	v.SetDefault("inference.min_detection_confidence", est.MinDetectionConfidence)
	v.SetDefault("inference.min_tracking_confidence", est.MinTrackingConfidence)
	v.SetDefault("inference.timeout", 10*time.Second)

	r := orchestrator.DefaultRates()
	v.SetDefault("rates.capture", r.Capture)
	v.SetDefault("rates.inference", r.Inference)
	v.SetDefault("rates.redraw", r.Redraw)
	v.SetDefault("rates.dispatch", r.Dispatch)

	o := orchestrator.DefaultOptions()
	v.SetDefault("display.show_video", o.ShowVideo)
	v.SetDefault("display.show_skeleton", o.ShowSkeleton)
	v.SetDefault("display.redraw_gated", o.RedrawGated)
	v.SetDefault("dispatch.enabled", o.DispatchEnabled)
	v.SetDefault("dispatch.flip_world_xy", o.FlipWorldXY)
	v.SetDefault("dispatch.target", o.Target)
	v.SetDefault("dispatch.method", o.Method)

	v.SetDefault("bridge.kind", "websocket")
	v.SetDefault("bridge.url", "ws://localhost:8080/pose")
	v.SetDefault("bridge.encoding", "json")
	v.SetDefault("bridge.reconnect_interval", 5*time.Second)
	v.SetDefault("bridge.mqtt.topic", "edmo/pose")
	v.SetDefault("bridge.mqtt.client_id", "edmo-pose")
	v.SetDefault("bridge.mqtt.qos", 0)

	for name, p := range orchestrator.DefaultProfiles() {
		v.SetDefault("profiles."+name+".complexity", p.Complexity)
		v.SetDefault("profiles."+name+".capture_rate", p.CaptureRate)
		v.SetDefault("profiles."+name+".dispatch_rate", p.DispatchRate)
	}
	v.SetDefault("performance_mode", "")

	v.SetDefault("api.listen", "127.0.0.1:8090")
	v.SetDefault("paths.outputs", "outputs")
	v.SetDefault("record", false)
}

// Load resolves the configuration. Sources, lowest precedence first:
// built-in defaults, the yaml file (path, or the first of
// config/<CONFIG_ENV>/config.yaml and ./config.yaml that exists), a .env
// file in the working directory, and EDMO_POSE_* environment variables.
func Load(path string) (*Root, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = guess()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v.IsSet("camera.frame_rate") {
		return nil, fmt.Errorf("%w: camera.frame_rate is not supported, the camera runs at rates.inference", ErrInvalid)
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func guess() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	for _, p := range []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var ErrInvalid = errors.New("invalid config")

func (r *Root) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := logrus.ParseLevel(r.Pipeline.LogLvl); err != nil {
		add("pipeline.log_level: %v", err)
	}
	switch r.Pipeline.LogFormat {
	case "text", "json":
	default:
		add("pipeline.log_format: want text or json, got %q", r.Pipeline.LogFormat)
	}

	switch r.Camera.Kind {
	case "synthetic":
		if r.Camera.Width <= 0 || r.Camera.Height <= 0 {
			add("camera: invalid resolution %dx%d", r.Camera.Width, r.Camera.Height)
		}
	case "files":
		if r.Camera.Dir == "" {
			add("camera.dir is required for the files camera")
		}
	default:
		add("camera.kind: want synthetic or files, got %q", r.Camera.Kind)
	}

	if err := r.EstimatorOptions().Validate(); err != nil {
		add("inference: %v", err)
	}
	if r.Inference.URL == "" {
		add("inference.url is required")
	}
	if err := r.Rates.Validate(); err != nil {
		add("rates: %v", err)
	}
	if err := r.Profiles.Validate(); err != nil {
		add("profiles: %v", err)
	}
	if r.PerformanceMode != "" {
		if _, ok := r.Profiles[r.PerformanceMode]; !ok {
			add("performance_mode: %v %q", orchestrator.ErrUnknownProfile, r.PerformanceMode)
		}
	}

	if _, err := pose.CodecByName(r.Bridge.Encoding); err != nil {
		add("bridge.encoding: %v", err)
	}
	switch r.Bridge.Kind {
	case "none":
	case "websocket", "mqtt":
		if r.Bridge.URL == "" {
			add("bridge.url is required for the %s bridge", r.Bridge.Kind)
		}
	case "http":
		if r.Bridge.URL == "" {
			add("bridge.url is required for the http bridge")
		}
		if r.Bridge.Encoding != "" && r.Bridge.Encoding != "json" {
			add("bridge.encoding: the http bridge only carries json")
		}
	default:
		add("bridge.kind: want websocket, http, mqtt or none, got %q", r.Bridge.Kind)
	}
	if r.Bridge.MQTT.QoS > 2 {
		add("bridge.mqtt.qos: want 0, 1 or 2, got %d", r.Bridge.MQTT.QoS)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (r *Root) EstimatorOptions() pose.EstimatorOptions {
	return pose.EstimatorOptions{
		Complexity:             r.Inference.Complexity,
		Smoothing:              r.Inference.Smoothing,
		MinDetectionConfidence: r.Inference.MinDetectionConfidence,
		MinTrackingConfidence:  r.Inference.MinTrackingConfidence,
	}
}

// ControllerConfig maps the file layout onto the controller's initial state.
func (r *Root) ControllerConfig() (orchestrator.Config, error) {
	codec, err := pose.CodecByName(r.Bridge.Encoding)
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		Rates:     r.Rates,
		Profiles:  r.Profiles,
		Profile:   r.PerformanceMode,
		Estimator: r.EstimatorOptions(),
		Options: orchestrator.Options{
			ShowVideo:       r.Display.ShowVideo,
			ShowSkeleton:    r.Display.ShowSkeleton,
			RedrawGated:     r.Display.RedrawGated,
			DispatchEnabled: r.Dispatch.Enabled,
			FlipWorldXY:     r.Dispatch.FlipWorldXY,
			Target:          r.Dispatch.Target,
			Method:          r.Dispatch.Method,
			Debug:           r.Pipeline.LogLvl == "debug",
			Codec:           codec,
		},
	}, nil
}

// NewLogger builds the process logger from the pipeline section.
func (r *Root) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(r.Pipeline.LogLvl); err == nil {
		log.SetLevel(lvl)
	}
	if r.Pipeline.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// YAML renders the effective configuration.
func (r *Root) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}
