package session

import "context"

// Kind identifies a capture capability.
type Kind string

const (
	KindScreenRecording Kind = "screen_recording"
	KindTrafficLog      Kind = "traffic_log"
	KindHTTPCapture     Kind = "http_capture"
)

// State is a capture session's lifecycle position. Every session
// travels Idle → Starting → Active → Stopping → Idle, or ends Failed;
// teardown runs on every path out of Active.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecorderSettings mirror the companion recorder app's configuration
// surface. AutoStop and manual stop are mutually exclusive; the choice
// is fixed when the recorder is armed.
type RecorderSettings struct {
	AutoStop        bool
	AutoToBack      bool
	CountdownSecond int
	AutoDelete      bool
}

// UploadTarget describes where the recorder uploads finished videos.
type UploadTarget struct {
	Title       string
	URL         string
	Method      string
	FileArgName string
	Headers     map[string]string
	Body        map[string]string
	EncodeBody  bool
}

// CaptureSettings configure the proxy-side HTTP request capture.
type CaptureSettings struct {
	AutoStop   bool
	TimeoutSec int
	UploadArgs string
}

// RecorderAgent drives the on-device screen recorder helper.
type RecorderAgent interface {
	ApplyRecorderSettings(ctx context.Context, settings RecorderSettings) error
	StartRecording(ctx context.Context, key string) error
	StopRecording(ctx context.Context) error
	ConfigureUpload(ctx context.Context, target UploadTarget) error
}

// TrafficLogAgent drives the on-device traffic statistics helper.
type TrafficLogAgent interface {
	StartTrafficLog(ctx context.Context, bundle, path string) error
	StopTrafficLog(ctx context.Context) error
	ReadTrafficLog(ctx context.Context, path string) (string, error)
	DeleteTrafficLog(ctx context.Context, path string) error
}

// ProxyAgent mutates the device's global HTTP proxy and the host-side
// capture plugin.
type ProxyAgent interface {
	SetHTTPProxy(ctx context.Context, hostPort string) error
	ClearHTTPProxy(ctx context.Context) error
	ActivateCapture(ctx context.Context, active bool) error
	ConfigureCapture(ctx context.Context, settings CaptureSettings) error
}

// Agent is the full remote-agent control surface. Commands are opaque
// to the transport; this package interprets their success or failure.
type Agent interface {
	RecorderAgent
	TrafficLogAgent
	ProxyAgent

	// KillHelper force-stops the companion helper app.
	KillHelper(ctx context.Context) error
}
