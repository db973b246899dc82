package config

import (
	"os"

	"codeberg.org/mutker/devperf/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string `mapstructure:"mode"`              // measurement mode: cpu-memory or traffic
	Package         string `mapstructure:"package"`           // target app bundle identifier
	Serial          string `mapstructure:"serial"`            // device serial, empty picks the only connected device
	Duration        int    `mapstructure:"duration"`          // max sampling duration in seconds
	Warmup          int    `mapstructure:"warmup"`            // seconds of raw data required before rates are reported
	Workers         int    `mapstructure:"workers"`           // worker pool size for blocking remote reads
	MainProcessOnly bool   `mapstructure:"main-process-only"` // sample only the app main process
	Normalized      bool   `mapstructure:"normalized"`        // scale CPU rates by the current/max frequency ratio
	MemoryUnit      string `mapstructure:"memory-unit"`       // byte unit for reported memory values
	ProxyAddress    string `mapstructure:"proxy-address"`     // host:port for proxy-based HTTP capture
	RecordSeconds   int    `mapstructure:"record-seconds"`    // screen recording length when auto-stop is on
	Debug           bool   `mapstructure:"debug"`
	Verbose         bool   `mapstructure:"verbose"`
}

const (
	ModeCPUMemory = "cpu-memory"
	ModeTraffic   = "traffic"
)

const (
	DefaultDuration      = 60
	DefaultWarmup        = 10
	DefaultWorkers       = 20
	DefaultMemoryUnit    = "MB"
	DefaultRecordSeconds = 30
)

func Load() (*Config, error) {
	errFactory := errors.New()
	config := &Config{}

	flags := pflag.NewFlagSet("devperf", pflag.ContinueOnError)
	flags.StringVar(&config.Mode, "mode", ModeCPUMemory, "Measurement mode (cpu-memory, traffic)")
	flags.StringVar(&config.Package, "package", "", "Target app bundle identifier")
	flags.StringVar(&config.Serial, "serial", "", "Device serial")
	flags.IntVar(&config.Duration, "duration", DefaultDuration, "Max sampling duration in seconds")
	flags.IntVar(&config.Warmup, "warmup", DefaultWarmup, "Warmup seconds before rates are reported")
	flags.IntVar(&config.Workers, "workers", DefaultWorkers, "Worker pool size")
	flags.BoolVar(&config.MainProcessOnly, "main-process-only", false, "Sample only the app main process")
	flags.BoolVar(&config.Normalized, "normalized", true, "Normalize CPU rates by frequency scaling")
	flags.StringVar(&config.MemoryUnit, "memory-unit", DefaultMemoryUnit, "Unit for memory values (B, KB, MB, GB)")
	flags.StringVar(&config.ProxyAddress, "proxy-address", "", "host:port for HTTP capture proxy")
	flags.IntVar(&config.RecordSeconds, "record-seconds", DefaultRecordSeconds, "Screen recording length for auto-stop")
	flags.BoolVar(&config.Debug, "debug", false, "Enable debugging mode")
	flags.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	if path := os.Getenv("DEVPERF_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("devperf")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("DEVPERF")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Command line flags override config file values
	if err := v.BindPFlags(flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.Mode {
	case "", ModeCPUMemory, ModeTraffic:
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown mode: "+c.Mode)
	}
	if c.Duration <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Duration)
	}
	if c.Warmup < 0 || c.Warmup > c.Duration {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Warmup)
	}
	if c.Workers <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "workers must be positive")
	}
	switch c.MemoryUnit {
	case "B", "KB", "MB", "GB":
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown memory unit: "+c.MemoryUnit)
	}

	return nil
}
