package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/config"
	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/health"
	"github.com/smazurov/ptzrec/internal/logging"
	"github.com/smazurov/ptzrec/internal/recorder"
	"github.com/smazurov/ptzrec/internal/session"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"ptzrec.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Camera settings
	CameraHost           string `help:"Camera host name or IP" toml:"camera.host" env:"CAMERA_HOST"`
	CameraUsername       string `help:"Camera account name" default:"admin" toml:"camera.username" env:"CAMERA_USERNAME"`
	CameraPassword       string `help:"Camera account password" toml:"camera.password" env:"CAMERA_PASSWORD"`
	CameraRTSPPort       int    `help:"Camera RTSP port" default:"554" toml:"camera.rtsp_port" env:"CAMERA_RTSP_PORT"`
	CameraHTTPPort       int    `help:"Camera HTTP port for snapshots" default:"80" toml:"camera.http_port" env:"CAMERA_HTTP_PORT"`
	CameraPrimaryPath    string `help:"RTSP path of the main stream" default:"/stream1" toml:"camera.primary_path" env:"CAMERA_PRIMARY_PATH"`
	CameraSecondaryPath  string `help:"RTSP path of the sub stream" default:"/stream2" toml:"camera.secondary_path" env:"CAMERA_SECONDARY_PATH"`
	CameraSnapshotPath   string `help:"HTTP path of the still image" default:"/cgi-bin/snapshot.cgi" toml:"camera.snapshot_path" env:"CAMERA_SNAPSHOT_PATH"`
	CameraTimeout        string `help:"Camera request timeout" default:"10s" toml:"camera.timeout" env:"CAMERA_TIMEOUT"`
	CameraRetries        int    `help:"Snapshot request retries" default:"3" toml:"camera.retries" env:"CAMERA_RETRIES"`
	CameraMaxConnections int    `help:"Concurrent stream connections the camera accepts" default:"1" toml:"camera.max_connections" env:"CAMERA_MAX_CONNECTIONS"`

	// Encoder settings
	EncoderPath            string `help:"ffmpeg binary, searched for when empty" toml:"encoder.path" env:"ENCODER_PATH"`
	EncoderInputOptions    string `help:"ffmpeg RTSP input options" default:"tcp,discardcorrupt,timeout" toml:"encoder.input_options" env:"ENCODER_INPUT_OPTIONS"`
	EncoderGracefulTimeout string `help:"Wait for ffmpeg to finalize a segment" default:"15s" toml:"encoder.graceful_timeout" env:"ENCODER_GRACEFUL_TIMEOUT"`
	EncoderKillTimeout     string `help:"Wait after closing stdin before killing" default:"5s" toml:"encoder.kill_timeout" env:"ENCODER_KILL_TIMEOUT"`

	// Session settings
	SessionTier             string `help:"Stream tier for live preview (primary, secondary)" default:"secondary" toml:"session.tier" env:"SESSION_TIER"`
	SessionAutostart        bool   `help:"Start the live session at startup" default:"false" toml:"session.autostart" env:"SESSION_AUTOSTART"`
	SessionFailureThreshold int    `help:"Consecutive read failures before reconnecting" default:"30" toml:"session.failure_threshold" env:"SESSION_FAILURE_THRESHOLD"`
	SessionBackoffBase      string `help:"Reconnect delay step" default:"2s" toml:"session.backoff_base" env:"SESSION_BACKOFF_BASE"`
	SessionBackoffMax       string `help:"Reconnect delay cap" default:"30s" toml:"session.backoff_max" env:"SESSION_BACKOFF_MAX"`
	SessionMaxReconnects    int    `help:"Reconnect attempts before giving up" default:"10" toml:"session.max_reconnects" env:"SESSION_MAX_RECONNECTS"`
	SessionStaleTimeout     string `help:"Reconnect after this long without a frame" default:"10s" toml:"session.stale_timeout" env:"SESSION_STALE_TIMEOUT"`
	SessionReadTimeout      string `help:"Single frame read timeout" default:"5s" toml:"session.read_timeout" env:"SESSION_READ_TIMEOUT"`
	SessionJoinTimeout      string `help:"Wait for the capture worker on stop" default:"5s" toml:"session.join_timeout" env:"SESSION_JOIN_TIMEOUT"`

	// Preview settings
	PreviewFPS          int  `help:"Preview frames per second" default:"5" toml:"preview.fps" env:"PREVIEW_FPS"`
	PreviewWidth        int  `help:"Preview width in pixels" default:"640" toml:"preview.width" env:"PREVIEW_WIDTH"`
	PreviewQuality      int  `help:"Preview MJPEG quality (2 best, 31 worst)" default:"7" toml:"preview.quality" env:"PREVIEW_QUALITY"`
	PreviewMaxFrameSize int  `help:"Largest accepted preview JPEG in bytes" default:"8388608" toml:"preview.max_frame_size" env:"PREVIEW_MAX_FRAME_SIZE"`
	PreviewWhileRecord  bool `help:"Feed preview frames from the recording encoder" default:"true" toml:"preview.while_recording" env:"PREVIEW_WHILE_RECORDING"`

	// Recording settings
	RecordingFolder          string `help:"Directory for recording segments" default:"recordings" toml:"recording.folder" env:"RECORDING_FOLDER"`
	RecordingSegmentDuration string `help:"Length of each segment" default:"10m" toml:"recording.segment_duration" env:"RECORDING_SEGMENT_DURATION"`
	RecordingOverlap         string `help:"Extra time recorded past each rotation" default:"2s" toml:"recording.overlap" env:"RECORDING_OVERLAP"`
	RecordingPreset          string `help:"Audio quality preset (low, medium, high)" default:"medium" toml:"recording.preset" env:"RECORDING_PRESET"`
	RecordingMaxRestarts     int    `help:"Replacement segments without recovery before failing" default:"5" toml:"recording.max_restarts" env:"RECORDING_MAX_RESTARTS"`
	RecordingHealthyAfter    string `help:"Growth time that resets the restart budget" default:"10s" toml:"recording.healthy_after" env:"RECORDING_HEALTHY_AFTER"`
	RecordingRestartDelay    string `help:"Delay step between replacement segments" default:"1s" toml:"recording.restart_delay" env:"RECORDING_RESTART_DELAY"`
	RecordingSlotWait        string `help:"Wait for the live session to free the connection" default:"10s" toml:"recording.slot_wait" env:"RECORDING_SLOT_WAIT"`

	// Health settings
	HealthPollInterval string `help:"Segment file size poll interval" default:"2s" toml:"health.poll_interval" env:"HEALTH_POLL_INTERVAL"`
	HealthStartupGrace string `help:"Time for ffmpeg to create the segment file" default:"10s" toml:"health.startup_grace" env:"HEALTH_STARTUP_GRACE"`
	HealthStallPolls   int    `help:"Unchanged polls that count as a stall" default:"5" toml:"health.stall_polls" env:"HEALTH_STALL_POLLS"`
	HealthMinFree      string `help:"Minimum free disk space to start recording" default:"5GiB" toml:"health.min_free" env:"HEALTH_MIN_FREE"`
	HealthKeywords     string `help:"ffmpeg stderr keywords flagged as errors" default:"error,failed,connection refused,timed out" toml:"health.keywords" env:"HEALTH_KEYWORDS"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession  string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingRecorder string `help:"Recorder logging level" default:"info" toml:"logging.recorder" env:"LOGGING_RECORDER"`
	LoggingEncoder  string `help:"Encoder logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingFfmpeg   string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingHealth   string `help:"Health monitor logging level" default:"info" toml:"logging.health" env:"LOGGING_HEALTH"`
	LoggingCamera   string `help:"Camera client logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

// LoggingConfig maps the logging options onto per-module levels.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"session":  o.LoggingSession,
			"capture":  o.LoggingSession,
			"recorder": o.LoggingRecorder,
			"encoder":  o.LoggingEncoder,
			"ffmpeg":   o.LoggingFfmpeg,
			"health":   o.LoggingHealth,
			"camera":   o.LoggingCamera,
			"api":      o.LoggingAPI,
			"http":     o.LoggingHTTP,
		},
	}
}

// RecordingDefaults is the [recording] table as given by the options.
func (o *Options) RecordingDefaults() config.Recording {
	return config.Recording{
		Folder:          o.RecordingFolder,
		SegmentDuration: o.RecordingSegmentDuration,
		Overlap:         o.RecordingOverlap,
		Preset:          o.RecordingPreset,
	}
}

// splitList splits a comma separated option, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// durations parses duration options, collecting every failure.
type durations struct {
	errs []error
}

func (d *durations) parse(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", name, err))
		return 0
	}
	return v
}

func (d *durations) err() error {
	return errors.Join(d.errs...)
}

// Settings are the options converted into component configs.
type Settings struct {
	Camera    camera.Config
	Encoder   encoderSettings
	Session   session.Config
	Capture   session.CaptureConfig
	Recorder  recorder.Config
	Health    health.Config
	Preview   *ffmpeg.PreviewParams
	Tier      camera.Tier
	SlotLimit int
}

type encoderSettings struct {
	Path        string
	KillTimeout time.Duration
	Options     []ffmpeg.OptionType
}

// Settings validates the options. All problems are reported at once.
func (o *Options) Settings() (Settings, error) {
	var d durations
	var errs []error

	inputOpts, err := ffmpeg.ParseOptions(splitList(o.EncoderInputOptions))
	if err == nil {
		err = ffmpeg.ValidateOptions(inputOpts)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("encoder.input_options: %w", err))
	}

	tier, err := camera.ParseTier(o.SessionTier)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.tier: %w", err))
	}

	var minFree uint64
	if o.HealthMinFree != "" {
		if minFree, err = humanize.ParseBytes(o.HealthMinFree); err != nil {
			errs = append(errs, fmt.Errorf("health.min_free: %w", err))
		}
	}

	s := Settings{
		Camera: camera.Config{
			Host:          o.CameraHost,
			Username:      o.CameraUsername,
			Password:      o.CameraPassword,
			RTSPPort:      o.CameraRTSPPort,
			HTTPPort:      o.CameraHTTPPort,
			PrimaryPath:   o.CameraPrimaryPath,
			SecondaryPath: o.CameraSecondaryPath,
			SnapshotPath:  o.CameraSnapshotPath,
			Timeout:       d.parse("camera.timeout", o.CameraTimeout),
			RetryMax:      o.CameraRetries,
		},
		Encoder: encoderSettings{
			Path:        o.EncoderPath,
			KillTimeout: d.parse("encoder.kill_timeout", o.EncoderKillTimeout),
			Options:     inputOpts,
		},
		Session: session.Config{
			FailureThreshold:     o.SessionFailureThreshold,
			BackoffBase:          d.parse("session.backoff_base", o.SessionBackoffBase),
			BackoffMax:           d.parse("session.backoff_max", o.SessionBackoffMax),
			MaxReconnectAttempts: o.SessionMaxReconnects,
			StaleTimeout:         d.parse("session.stale_timeout", o.SessionStaleTimeout),
			ReadTimeout:          d.parse("session.read_timeout", o.SessionReadTimeout),
			JoinTimeout:          d.parse("session.join_timeout", o.SessionJoinTimeout),
		},
		Capture: session.CaptureConfig{
			FPS:          o.PreviewFPS,
			Width:        o.PreviewWidth,
			Quality:      o.PreviewQuality,
			Options:      inputOpts,
			MaxFrameSize: o.PreviewMaxFrameSize,
		},
		Recorder: recorder.Config{
			GracefulTimeout:        d.parse("encoder.graceful_timeout", o.EncoderGracefulTimeout),
			MaxConsecutiveRestarts: o.RecordingMaxRestarts,
			HealthyAfter:           d.parse("recording.healthy_after", o.RecordingHealthyAfter),
			RestartDelay:           d.parse("recording.restart_delay", o.RecordingRestartDelay),
			SlotWait:               d.parse("recording.slot_wait", o.RecordingSlotWait),
		},
		Health: health.Config{
			PollInterval: d.parse("health.poll_interval", o.HealthPollInterval),
			StartupGrace: d.parse("health.startup_grace", o.HealthStartupGrace),
			StallPolls:   o.HealthStallPolls,
			MinFreeBytes: minFree,
			Keywords:     splitList(o.HealthKeywords),
		},
		Tier:      tier,
		SlotLimit: o.CameraMaxConnections,
	}
	if o.PreviewWhileRecord {
		s.Preview = &ffmpeg.PreviewParams{
			FPS:          o.PreviewFPS,
			Width:        o.PreviewWidth,
			Quality:      o.PreviewQuality,
			MaxFrameSize: o.PreviewMaxFrameSize,
		}
	}

	if _, _, err := o.RecordingDefaults().Durations(); err != nil {
		errs = append(errs, fmt.Errorf("recording: %w", err))
	}
	errs = append(errs, d.err())
	return s, errors.Join(errs...)
}
