package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/shell"
)

// AgentConfig locates the on-device helper app and the host-side
// capture proxy's control endpoint.
type AgentConfig struct {
	HelperPackage  string
	HelperActivity string
	CaptureAddr    string // host:port of the capture proxy control API
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		HelperPackage:  "io.github.nic562.screen.recorder",
		HelperActivity: ".MainActivity",
	}
}

// agent implements Agent over the base remote-command capability. The
// helper app is driven through activity starts and broadcasts whose
// output text is interpreted here; the transport stays opaque.
type agent struct {
	runner shell.Runner
	cfg    AgentConfig
	client *http.Client
}

func NewAgent(runner shell.Runner, cfg AgentConfig) (Agent, error) {
	if runner == nil {
		return nil, errors.New().New(ErrNoAgent)
	}
	if cfg.HelperPackage == "" {
		cfg = DefaultAgentConfig()
	}

	return &agent{
		runner: runner,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// startCmd issues an activity start against the helper app and
// interprets its output: anything without a "Starting:" line means
// the command was rejected.
func (a *agent) startCmd(ctx context.Context, extras string) error {
	errFactory := errors.New()

	cmd := fmt.Sprintf("am start -n %s/%s %s", a.cfg.HelperPackage, a.cfg.HelperActivity, extras)
	out, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}
	if !strings.Contains(out, "Starting:") {
		return errFactory.WithData(ErrConfigure, out)
	}

	return nil
}

// broadcast sends a key-value broadcast to the helper's remote
// calling receiver.
func (a *agent) broadcast(ctx context.Context, kv map[string]string) error {
	errFactory := errors.New()

	var sb strings.Builder
	fmt.Fprintf(&sb, "am broadcast -a %s.RemoteCallingSV -n %s/.RemoteCallingReceiver",
		a.cfg.HelperPackage, a.cfg.HelperPackage)
	for k, v := range kv {
		fmt.Fprintf(&sb, " -e %s %s", k, v)
	}

	if _, err := a.runner.Run(ctx, sb.String()); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	return nil
}

func boolArg(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (a *agent) ApplyRecorderSettings(ctx context.Context, s RecorderSettings) error {
	return a.startCmd(ctx, fmt.Sprintf(
		"--es setting 1 --ez auto_2back %s --ez auto_stop_record %s --ei record_count_down_second %d --ez record_auto_delete %s",
		boolArg(s.AutoToBack), boolArg(s.AutoStop), s.CountdownSecond, boolArg(s.AutoDelete)))
}

func (a *agent) StartRecording(ctx context.Context, key string) error {
	return a.startCmd(ctx, fmt.Sprintf("--es ui startRecord --es key %s", key))
}

func (a *agent) StopRecording(ctx context.Context) error {
	return a.startCmd(ctx, "--es ui stopRecording")
}

func (a *agent) ConfigureUpload(ctx context.Context, t UploadTarget) error {
	extras := fmt.Sprintf(
		"--es data api --es title %s --es url %s --es method %s --es uploadFileArgName %s --ez isBodyEncoding %s",
		t.Title, t.URL, t.Method, t.FileArgName, boolArg(t.EncodeBody))
	if len(t.Headers) > 0 {
		extras += " --es header " + encodeForm(t.Headers)
	}
	if len(t.Body) > 0 {
		extras += " --es body " + encodeForm(t.Body)
	}

	return a.startCmd(ctx, extras)
}

// encodeForm url-encodes a map for transport inside a shell argument;
// ampersands must survive the remote shell.
func encodeForm(m map[string]string) string {
	values := url.Values{}
	for k, v := range m {
		values.Set(k, v)
	}

	return strings.ReplaceAll(values.Encode(), "&", `\&`)
}

func (a *agent) StartTrafficLog(ctx context.Context, bundle, path string) error {
	return a.broadcast(ctx, map[string]string{
		"action":    "startNetTrafficStatistics",
		"app":       bundle,
		"save2File": path,
	})
}

func (a *agent) StopTrafficLog(ctx context.Context) error {
	return a.broadcast(ctx, map[string]string{"action": "stopNetTrafficStatistics"})
}

func (a *agent) ReadTrafficLog(ctx context.Context, path string) (string, error) {
	errFactory := errors.New()

	out, err := a.runner.Run(ctx, "cat "+path)
	if err != nil {
		return "", errFactory.Wrap(ErrLogUnreadable, err)
	}
	if strings.Contains(out, "No such file or directory") {
		return "", errFactory.WithData(ErrLogUnreadable, path)
	}

	return out, nil
}

func (a *agent) DeleteTrafficLog(ctx context.Context, path string) error {
	errFactory := errors.New()

	if _, err := a.runner.Run(ctx, "rm "+path); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	return nil
}

func (a *agent) SetHTTPProxy(ctx context.Context, hostPort string) error {
	errFactory := errors.New()

	out, err := a.runner.Run(ctx, "settings put global http_proxy "+hostPort)
	if err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}
	if strings.Contains(out, "Permission denial") {
		return errFactory.WithData(ErrConfigure, out)
	}

	return nil
}

func (a *agent) ClearHTTPProxy(ctx context.Context) error {
	// the settings store has no delete for this key; :0 is the
	// conventional "no proxy" value
	return a.SetHTTPProxy(ctx, ":0")
}

func (a *agent) ActivateCapture(ctx context.Context, active bool) error {
	flag := "0"
	if active {
		flag = "1"
	}

	return a.captureControl(ctx, "/plugin.statistics/cgi-bin/active", "active="+flag)
}

func (a *agent) ConfigureCapture(ctx context.Context, s CaptureSettings) error {
	body := fmt.Sprintf("autoStop=%s&timeout=%d&uploadArgs=%s",
		map[bool]string{true: "1", false: "0"}[s.AutoStop], s.TimeoutSec, s.UploadArgs)

	return a.captureControl(ctx, "/plugin.statistics/cgi-bin/set-settings", body)
}

// captureControl posts to the capture proxy's plugin API on the host.
func (a *agent) captureControl(ctx context.Context, uri, body string) error {
	errFactory := errors.New()

	if a.cfg.CaptureAddr == "" {
		return errFactory.New(ErrNoProxy)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+a.cfg.CaptureAddr+uri, strings.NewReader(body))
	if err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return errFactory.WithData(ErrConfigure, string(msg))
	}

	return nil
}

func (a *agent) KillHelper(ctx context.Context) error {
	errFactory := errors.New()

	if _, err := a.runner.Run(ctx, "am force-stop "+a.cfg.HelperPackage); err != nil {
		return errFactory.Wrap(ErrConfigure, err)
	}

	return nil
}
