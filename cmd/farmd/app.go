package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	farmd "pkt.systems/farmd"
	"pkt.systems/farmd/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("FARMD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "farmd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := farmd.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, farmd.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg farmd.Config
	var producers int
	var producerInterval time.Duration

	cmd := &cobra.Command{
		Use:           "farmd",
		Short:         "farmd is a single-binary farm simulator with a REST surface and a broker-based request/reply producer protocol",
		SilenceErrors: true,
		Example: `
  # Default server on :9441, ticking every 2 seconds
  farmd

  # Faster consumption and Prometheus metrics
  farmd --tick-interval 500ms --metrics-listen :9442

  # Self-contained demo: four in-process producers feeding the farm over the broker
  farmd --producers 4 --producer-interval 250ms
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true
			svcfields.WithSubsystem(logger, "server.lifecycle.init").WithLogLevel().Info(
				"welcome to farmd",
				"app", "farmd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			if err := bindConfig(&cfg); err != nil {
				return err
			}
			producers = viper.GetInt("producers")
			producerInterval = viper.GetDuration("producer-interval")
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}

			level, ok := pslog.ParseLevel(logLevel)
			if ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			server, err := farmd.NewServer(cfg, farmd.WithLogger(logger))
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			if producers > 0 {
				startDemoProducers(ctx, server, producers, producerInterval, logger)
			}

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.farmd/"+farmd.DefaultConfigFileName+")")
	persistentFlags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	flags := cmd.Flags()
	flags.String("listen", farmd.DefaultListen, "listen address")
	flags.String("listen-proto", farmd.DefaultListenProto, "listen network (tcp, tcp4, tcp6, unix)")
	flags.String("metrics-listen", farmd.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables; default off)")
	flags.String("queue", farmd.DefaultInboundQueue, "broker queue producers publish submissions to")
	flags.Duration("tick-interval", 0, "consumption tick interval (0 uses the built-in default)")
	flags.Float64("base-rate", 0, "consumption coefficient floor (0 uses the built-in default)")
	flags.Float64("growth-rate", 0, "coefficient growth per unit of farm size (0 uses the built-in default)")
	flags.Float64("max-coefficient", 0, "consumption coefficient ceiling (0 uses the built-in default)")
	flags.Int("max-fail-rounds", 0, "consecutive failed rounds per resource before collapse (0 uses the built-in default)")
	flags.Float64("max-farm-size", 0, "farm size that triggers a selling phase (0 uses the built-in default)")
	flags.Duration("selling-duration", 0, "how long a selling phase locks out submissions (0 uses the built-in default)")
	jsonMaxDefault := humanizeBytes(farmd.DefaultJSONMaxBytes)
	flags.String("json-max", jsonMaxDefault, "maximum JSON payload size")
	flags.Duration("shutdown-timeout", farmd.DefaultShutdownTimeout, "overall shutdown timeout")
	flags.Int("producers", 0, "start this many in-process demo producers over the broker (0 disables)")
	flags.Duration("producer-interval", time.Second, "average pacing between demo producer submissions")

	bindFlag := func(name string) {
		var flag *pflag.Flag
		if flag = flags.Lookup(name); flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("FARMD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config", "log-level",
		"listen", "listen-proto", "metrics-listen", "queue",
		"tick-interval", "base-rate", "growth-rate", "max-coefficient",
		"max-fail-rounds", "max-farm-size", "selling-duration",
		"json-max", "shutdown-timeout",
		"producers", "producer-interval",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newProducerCommand(baseLogger))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig(cfg *farmd.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.InboundQueue = viper.GetString("queue")
	cfg.TickInterval = viper.GetDuration("tick-interval")
	cfg.BaseRate = viper.GetFloat64("base-rate")
	cfg.GrowthRate = viper.GetFloat64("growth-rate")
	cfg.MaxCoefficient = viper.GetFloat64("max-coefficient")
	cfg.MaxFailRounds = viper.GetInt("max-fail-rounds")
	cfg.MaxFarmSize = viper.GetFloat64("max-farm-size")
	cfg.SellingDuration = viper.GetDuration("selling-duration")
	maxBytes := viper.GetString("json-max")
	if maxBytes != "" {
		size, err := humanize.ParseBytes(maxBytes)
		if err != nil {
			return fmt.Errorf("parse json-max: %w", err)
		}
		cfg.JSONMaxBytes = int64(size)
	}
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
