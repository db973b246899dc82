package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/devperf/internal/config"
	"codeberg.org/mutker/devperf/internal/device"
	"codeberg.org/mutker/devperf/internal/logger"
	"codeberg.org/mutker/devperf/internal/monitor"
	"codeberg.org/mutker/devperf/internal/pid"
	"codeberg.org/mutker/devperf/internal/sampler"
	"codeberg.org/mutker/devperf/internal/session"
	"codeberg.org/mutker/devperf/internal/shell"
	"codeberg.org/mutker/devperf/internal/snapshot"
	"github.com/c2h5oh/datasize"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if cfg.Package == "" {
		logger.Fatal().Msg("no target package configured")
	}

	if err := pid.Write(cfg.Serial); err != nil {
		logger.Fatal().Err(err).Msg("another run holds this device")
	}
	defer func() {
		if err := pid.Remove(cfg.Serial); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("measurement failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	adb, err := shell.NewADB(cfg.Serial)
	if err != nil {
		return err
	}

	source, err := device.New(adb)
	if err != nil {
		return err
	}

	agent, err := session.NewAgent(adb, session.AgentConfig{CaptureAddr: cfg.ProxyAddress})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(agent)
	if err != nil {
		return err
	}

	mon, err := monitor.New(adb, source, sessions)
	if err != nil {
		return err
	}

	app := monitor.App{Bundle: cfg.Package}
	if cfg.Mode == config.ModeTraffic {
		return runTraffic(ctx, mon, app)
	}

	smpCfg := sampler.Config{
		Duration:        cfg.Duration,
		Warmup:          cfg.Warmup,
		Workers:         cfg.Workers,
		MainProcessOnly: cfg.MainProcessOnly,
		Normalized:      cfg.Normalized,
		MemoryUnit:      snapshot.ParseUnit(cfg.MemoryUnit),
	}

	logger.Info().
		Str("package", cfg.Package).
		Int("duration", cfg.Duration).
		Bool("normalized", cfg.Normalized).
		Msg("Starting CPU/memory measurement")

	result, err := mon.MeasureCPUMemory(ctx, app, smpCfg, nil)
	if err != nil {
		return err
	}

	report(result)

	return nil
}

// traffic mode defaults, matching the original tool's flow: wait up
// to a minute for startup traffic to fall under 1 KB/s for a few
// consecutive seconds, then measure.
const (
	trafficSettleWait   = 60 * time.Second
	trafficQuietSeconds = 3
	trafficThreshold    = datasize.KB
)

func runTraffic(ctx context.Context, mon *monitor.Monitor, app monitor.App) error {
	logger.Info().
		Str("package", cfg.Package).
		Int("seconds", cfg.Duration).
		Msg("Starting traffic measurement")

	rep, err := mon.MeasureTraffic(ctx, app, monitor.TrafficOptions{
		SettleWait:      trafficSettleWait,
		QuietThresholds: sampler.Thresholds{Rx: trafficThreshold, Tx: trafficThreshold},
		MinQuietSeconds: trafficQuietSeconds,
		ListenSeconds:   cfg.Duration,
	})
	if err != nil {
		return err
	}

	for i := range rep.Down {
		logger.Info().
			Int("second", i+1).
			Float64("down_kb", rep.Down[i]).
			Float64("up_kb", rep.Up[i]).
			Msg("traffic")
	}

	return nil
}

func report(result *sampler.Result) {
	for i := range result.CPU {
		logger.Info().
			Int("second", i+1).
			Float64("cpu", result.CPU[i]).
			Float64("memory", result.Memory[i]).
			Msg("sample")
	}

	var cpuSum, memSum float64
	for _, v := range result.CPU {
		cpuSum += v
	}
	for _, v := range result.Memory {
		memSum += v
	}

	n := len(result.CPU)
	if n == 0 {
		logger.Warn().Msg("run produced no usable intervals")
		return
	}

	logger.Info().
		Int("intervals", n).
		Float64("cpu_avg", cpuSum/float64(n)).
		Float64("memory_avg", memSum/float64(n)).
		Bool("stopped_early", result.Stopped).
		Msg("Measurement complete")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
