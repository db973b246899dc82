package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/monitor"
	"codeberg.org/mutker/devperf/internal/sampler"
	"codeberg.org/mutker/devperf/internal/session"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/benbjohnson/clock"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cmdRunner records every issued command and accepts them all.
type cmdRunner struct {
	mu   sync.Mutex
	cmds []string
}

func (r *cmdRunner) Run(_ context.Context, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return "", nil
}

func (r *cmdRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cmds))
	copy(out, r.cmds)
	return out
}

// fakeSource serves deterministic counters; CPU reads advance by one
// interval's worth per call, traffic reads walk a cumulative script.
type fakeSource struct {
	mu       sync.Mutex
	sysCalls uint64
	appCalls uint64

	pidHidden int // MainProcess failures before the pid appears
	mainCalls int

	trafficRx    []uint64 // cumulative rx bytes per ProcessTraffic call
	trafficCalls int
}

func (f *fakeSource) SystemCPU(context.Context) (snapshot.SysCPU, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.sysCalls
	f.sysCalls++

	return snapshot.SysCPU{User: 100 * n, Kernel: 50 * n, Total: 1000 * (n + 1), FreqRatio: 1.0}, nil
}

func (f *fakeSource) AppCPU(_ context.Context, pids []int) (snapshot.AppCPU, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.appCalls
	f.appCalls++

	return snapshot.AppCPU{User: 10 * n, Kernel: 5 * n}, nil
}

func (f *fakeSource) Memory(context.Context, []int) (snapshot.Memory, error) {
	return snapshot.Memory{TotalPSS: 96 * datasize.MB}, nil
}

func (f *fakeSource) DeviceTraffic(context.Context) (snapshot.Traffic, error) {
	return snapshot.Traffic{}, nil
}

func (f *fakeSource) ProcessTraffic(context.Context, int) (snapshot.Traffic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.trafficCalls
	if n >= len(f.trafficRx) {
		n = len(f.trafficRx) - 1
	}
	f.trafficCalls++

	return snapshot.Traffic{Rx: datasize.ByteSize(f.trafficRx[n])}, nil
}

func (f *fakeSource) Processes(context.Context, string) ([]snapshot.Process, error) {
	return []snapshot.Process{{PID: 100, Name: "com.example.app"}}, nil
}

func (f *fakeSource) MainProcess(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mainCalls++
	if f.mainCalls <= f.pidHidden {
		return 0, errors.New().WithData(errors.ErrNoProcess, "com.example.app")
	}

	return 100, nil
}

type outcome[T any] struct {
	val T
	err error
}

func driveClock[T any](t *testing.T, mock *clock.Mock, done <-chan outcome[T]) outcome[T] {
	t.Helper()

	for i := 0; i < 300; i++ {
		select {
		case out := <-done:
			return out
		default:
			time.Sleep(5 * time.Millisecond)
			mock.Add(time.Second)
		}
	}

	t.Fatal("measurement did not finish")
	var zero outcome[T]
	return zero
}

func newMonitor(t *testing.T, runner *cmdRunner, src snapshot.Source, mock *clock.Mock, sessions *session.Manager) *monitor.Monitor {
	t.Helper()
	m, err := monitor.New(runner, src, sessions, monitor.WithMonitorClock(mock))
	require.NoError(t, err)
	return m
}

func TestLaunchCommands(t *testing.T) {
	runner := &cmdRunner{}
	m := newMonitor(t, runner, &fakeSource{}, clock.NewMock(), nil)

	require.NoError(t, m.Launch(context.Background(), monitor.App{Bundle: "com.example.app"}))
	require.NoError(t, m.Launch(context.Background(), monitor.App{Bundle: "com.example.app", Activity: ".MainActivity"}))

	cmds := runner.commands()
	assert.Equal(t, "monkey -p com.example.app -c android.intent.category.LAUNCHER 1", cmds[0])
	assert.Equal(t, "am start com.example.app/.MainActivity", cmds[1])
}

func TestMeasureCPUMemory(t *testing.T) {
	runner := &cmdRunner{}
	src := &fakeSource{}
	mock := clock.NewMock()
	m := newMonitor(t, runner, src, mock, nil)

	done := make(chan outcome[*sampler.Result], 1)
	go func() {
		res, err := m.MeasureCPUMemory(context.Background(),
			monitor.App{Bundle: "com.example.app"},
			sampler.Config{Duration: 2, Workers: 4, MemoryUnit: datasize.MB}, nil)
		done <- outcome[*sampler.Result]{res, err}
	}()
	time.Sleep(5 * time.Millisecond)

	out := driveClock(t, mock, done)
	require.NoError(t, out.err)
	require.NotNil(t, out.val)
	assert.Len(t, out.val.CPU, 2)
	for _, v := range out.val.CPU {
		assert.InDelta(t, 0.015, v, 1e-9)
	}
	for _, v := range out.val.Memory {
		assert.InDelta(t, 96.0, v, 1e-9)
	}

	cmds := runner.commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "am force-stop com.example.app", cmds[0], "a cold launch starts from a stopped app")
	assert.Equal(t, "monkey -p com.example.app -c android.intent.category.LAUNCHER 1", cmds[1])
	assert.Equal(t, "am force-stop com.example.app", cmds[len(cmds)-1], "the app must not be left running")
}

func TestMeasureCPUMemoryLaunchTimeout(t *testing.T) {
	runner := &cmdRunner{}
	src := &fakeSource{pidHidden: 1 << 30}
	mock := clock.NewMock()
	m := newMonitor(t, runner, src, mock, nil)

	done := make(chan outcome[*sampler.Result], 1)
	go func() {
		res, err := m.MeasureCPUMemory(context.Background(),
			monitor.App{Bundle: "com.example.app"},
			sampler.Config{Duration: 2, Workers: 4}, nil)
		done <- outcome[*sampler.Result]{res, err}
	}()
	time.Sleep(5 * time.Millisecond)

	out := driveClock(t, mock, done)
	require.Error(t, out.err)
	assert.True(t, errors.IsCode(out.err, errors.ErrTimeout))
}

func TestMeasureTraffic(t *testing.T) {
	runner := &cmdRunner{}
	// one settle baseline, one quiet settle sample, one measurement
	// baseline, then two measured seconds of 2048 and 1024 bytes
	src := &fakeSource{trafficRx: []uint64{1000, 1000, 1000, 3048, 4072}}
	mock := clock.NewMock()
	m := newMonitor(t, runner, src, mock, nil)

	opts := monitor.TrafficOptions{
		SettleWait:      30 * time.Second,
		QuietThresholds: sampler.Thresholds{Rx: datasize.KB, Tx: datasize.KB},
		MinQuietSeconds: 1,
		ListenSeconds:   2,
	}

	done := make(chan outcome[*monitor.TrafficReport], 1)
	go func() {
		rep, err := m.MeasureTraffic(context.Background(), monitor.App{Bundle: "com.example.app"}, opts)
		done <- outcome[*monitor.TrafficReport]{rep, err}
	}()
	time.Sleep(5 * time.Millisecond)

	out := driveClock(t, mock, done)
	require.NoError(t, out.err)
	require.NotNil(t, out.val)

	require.Len(t, out.val.Down, 2)
	assert.InDelta(t, 2.0, out.val.Down[0], 1e-9)
	assert.InDelta(t, 1.0, out.val.Down[1], 1e-9)
	assert.Equal(t, []float64{0, 0}, out.val.Up)
}

func TestMeasureTrafficNeverQuiet(t *testing.T) {
	runner := &cmdRunner{}
	rx := make([]uint64, 40)
	for i := range rx {
		rx[i] = uint64(i) * 1 << 20 // a megabyte every second, never quiet
	}
	src := &fakeSource{trafficRx: rx}
	mock := clock.NewMock()
	m := newMonitor(t, runner, src, mock, nil)

	opts := monitor.TrafficOptions{
		SettleWait:      5 * time.Second,
		QuietThresholds: sampler.Thresholds{Rx: datasize.KB, Tx: datasize.KB},
		MinQuietSeconds: 2,
		ListenSeconds:   2,
	}

	done := make(chan outcome[*monitor.TrafficReport], 1)
	go func() {
		rep, err := m.MeasureTraffic(context.Background(), monitor.App{Bundle: "com.example.app"}, opts)
		done <- outcome[*monitor.TrafficReport]{rep, err}
	}()
	time.Sleep(5 * time.Millisecond)

	out := driveClock(t, mock, done)
	require.Error(t, out.err)
	assert.True(t, errors.IsCode(out.err, monitor.ErrNeverQuiet))

	cmds := runner.commands()
	assert.Equal(t, "am force-stop com.example.app", cmds[len(cmds)-1], "the app is stopped even when the measurement fails")
}

// nopAgent satisfies the session agent surface with no-ops, so flow
// tests can focus on the launch choreography.
type nopAgent struct {
	log string
}

func (nopAgent) ApplyRecorderSettings(context.Context, session.RecorderSettings) error { return nil }
func (nopAgent) StartRecording(context.Context, string) error                          { return nil }
func (nopAgent) StopRecording(context.Context) error                                   { return nil }
func (nopAgent) ConfigureUpload(context.Context, session.UploadTarget) error           { return nil }
func (nopAgent) StartTrafficLog(context.Context, string, string) error                 { return nil }
func (nopAgent) StopTrafficLog(context.Context) error                                  { return nil }
func (a nopAgent) ReadTrafficLog(context.Context, string) (string, error)              { return a.log, nil }
func (nopAgent) DeleteTrafficLog(context.Context, string) error                        { return nil }
func (nopAgent) SetHTTPProxy(context.Context, string) error                            { return nil }
func (nopAgent) ClearHTTPProxy(context.Context) error                                  { return nil }
func (nopAgent) ActivateCapture(context.Context, bool) error                           { return nil }
func (nopAgent) ConfigureCapture(context.Context, session.CaptureSettings) error       { return nil }
func (nopAgent) KillHelper(context.Context) error                                      { return nil }

func TestCaptureTrafficLogFlow(t *testing.T) {
	runner := &cmdRunner{}
	sessions, err := session.NewManager(nopAgent{log: "0\t2048\t512\n"})
	require.NoError(t, err)
	m := newMonitor(t, runner, &fakeSource{}, clock.NewMock(), sessions)

	driven := false
	entries, err := m.CaptureTrafficLog(context.Background(), monitor.App{Bundle: "com.example.app"},
		session.TrafficLogOptions{}, func(context.Context) error {
			driven = true
			return nil
		})
	require.NoError(t, err)
	assert.True(t, driven)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(2048), entries[0].Down)

	cmds := runner.commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "monkey -p com.example.app -c android.intent.category.LAUNCHER 1", cmds[0],
		"the app launches inside the capture window")
	assert.Equal(t, "am force-stop com.example.app", cmds[len(cmds)-1])
}

func TestCaptureHTTPRequiresSessions(t *testing.T) {
	m := newMonitor(t, &cmdRunner{}, &fakeSource{}, clock.NewMock(), nil)

	err := m.CaptureHTTP(context.Background(), monitor.App{Bundle: "b"}, session.HTTPCaptureOptions{}, nil)
	assert.True(t, errors.IsCode(err, session.ErrNoAgent))
}
