// Package cmd builds the interceptor's cobra command tree: a colorConsole
// zap encoder, optional Sentry crash reporting via zapsentry, and a single
// root command with persistent --debug/--config-path flags, scoped to one job:
// run the interceptor.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	sentry "github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/brightcandlelight/trustbase-linux/config"
	"github.com/brightcandlelight/trustbase-linux/utils"
	trustbaselog "github.com/brightcandlelight/trustbase-linux/utils/log"
)

// Emoji prefixes every log line so the interceptor's output is
// recognizable in a terminal full of other tools' logs.
var Emoji = "\U0001F6E1️  trustbase:"

var enableANSIColor bool

type colorConsoleEncoder struct {
	*zapcore.EncoderConfig
	zapcore.Encoder
}

func newColorConsole(cfg zapcore.EncoderConfig) zapcore.Encoder {
	if !enableANSIColor {
		return zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	}
	return colorConsoleEncoder{EncoderConfig: &cfg, Encoder: zapcore.NewConsoleEncoder(cfg)}
}

func (c colorConsoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}
	out := bytes.Replace(buf.Bytes(), []byte("\\u001b"), []byte(""), -1)
	buf.Reset()
	buf.AppendString(string(out))
	return buf, nil
}

func (c colorConsoleEncoder) Clone() zapcore.Encoder {
	return colorConsoleEncoder{EncoderConfig: c.EncoderConfig, Encoder: c.Encoder.Clone()}
}

func init() {
	_ = zap.RegisterEncoder("colorConsole", func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
		return newColorConsole(cfg), nil
	})
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(Emoji + " " + t.Format(time.RFC3339) + " ")
}

// buildLogger turns cfg's Log section into a *zap.Logger plus the on-disk
// log file utils/log.New opened, configuring utils/log's package-level
// LogFilePath and LogCfg along the way. It runs before flags and the config
// file are parsed, so it sees the built-in defaults; loadConfig applies the
// resolved level afterwards. The caller owns logFile and must close it on
// shutdown.
func buildLogger(cfg *config.Config) (logger *zap.Logger, logFile *os.File, err error) {
	if cfg.Log.Path != "" {
		trustbaselog.LogFilePath = cfg.Log.Path
	}
	if !enableANSIColor {
		trustbaselog.LogCfg.Encoding = "nonColorConsole"
	}
	trustbaselog.LogCfg.EncoderConfig.EncodeTime = customTimeEncoder

	logger, logFile, err = trustbaselog.New()
	if err != nil {
		return nil, nil, err
	}

	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	} else if parsed, perr := zapcore.ParseLevel(cfg.Log.Level); perr == nil {
		level = parsed
	}
	if level != zap.InfoLevel || cfg.Debug {
		if logger, err = trustbaselog.ChangeLogLevel(level); err != nil {
			return nil, nil, err
		}
	}
	return logger, logFile, nil
}

// attachSentry wires zapsentry so errors logged at Error level or above
// become Sentry events, tagged with the interceptor version and installation ID.
func attachSentry(logger *zap.Logger, cfg *config.Config, client *sentry.Client) *zap.Logger {
	if client == nil {
		return logger
	}
	zCfg := zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   zapcore.InfoLevel,
		Tags:              map[string]string{"component": "trustbase"},
	}
	core, err := zapsentry.NewCore(zCfg, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		logger.Debug("failed to attach sentry core", zap.Error(err))
		return logger
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("trustbase version", cfg.Version)
		scope.SetTag("installation id", cfg.InstallationID)
	})
	return logger
}

var rootExamples = `
  Run the interceptor against the default policy engine:
	trustbase run

  Run with a specific eBPF object and CA bundle:
	trustbase run --ebpf-object /usr/lib/trustbase/hooks.o --ca-bundle /etc/trustbase/ca-bundle.pem
`

// Execute builds and runs the root command. It's called once from
// main.main.
func Execute(ctx context.Context) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to build default config: %w", err)
	}
	cfg.Version = utils.Version

	rootCmd := &cobra.Command{
		Use:     "trustbase",
		Short:   "Transparent TLS-aware traffic interceptor",
		Example: rootExamples,
		Version: cfg.Version,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", cfg.Debug, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&enableANSIColor, "enable-ansi-color", true, "enable ANSI color codes in log output")
	rootCmd.PersistentFlags().String("config-path", cfg.ConfigPath, "path to a YAML config file merged over the defaults")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("configPath", rootCmd.PersistentFlags().Lookup("config-path"))

	logger, logFile, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to start the logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = logFile.Close() }()
	defer utils.Recover(logger)

	if dsn := os.Getenv("TRUSTBASE_SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logger.Debug("failed to init sentry", zap.Error(err))
		} else {
			logger = attachSentry(logger, cfg, sentry.CurrentHub().Client())
		}
	}

	rootCmd.AddCommand(newRunCmd(logger, cfg))

	return rootCmd.ExecuteContext(ctx)
}
