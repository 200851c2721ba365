package cmd

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightcandlelight/trustbase-linux/config"
	"github.com/brightcandlelight/trustbase-linux/pkg/core"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/handler"
	"github.com/brightcandlelight/trustbase-linux/pkg/policy"
	"github.com/brightcandlelight/trustbase-linux/utils"
	trustbaselog "github.com/brightcandlelight/trustbase-linux/utils/log"
)

// newRunCmd wires the Verdict Channel collaborator, the TLS handler and
// the Connection Table/Transport Hooks (pkg/core) together behind whatever
// Installer this platform ships, keeping command wiring in cmd/ and
// behavior in pkg/.
func newRunCmd(logger *zap.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach the interceptor to the host's TCP stack and monitor TLS handshakes",
		PreRunE: func(c *cobra.Command, _ []string) error {
			return loadConfig(c, cfg, logger)
		},
		RunE: func(c *cobra.Command, _ []string) error {
			return runInterceptor(c.Context(), logger, cfg)
		},
	}
	cmd.Flags().String("policy-address", cfg.Policy.Address, "policy engine socket address (not read: verdicts always come from the built-in X.509 trust engine)")
	cmd.Flags().String("ca-bundle", cfg.Policy.CABundlePath, "extra PEM CA bundle trusted by the built-in engine")
	cmd.Flags().Float64("congress-threshold", cfg.Policy.CongressThreshold, "passthrough threshold for the congress policy engine")
	cmd.Flags().String("ebpf-object", cfg.Hook.ObjectPath, "compiled eBPF object attaching the transport hooks")
	return cmd
}

// nestedFlagKeys maps dotted config keys to the flags that override them.
// viper.BindPFlags only registers each flag under its own name, which never
// matches a nested section's mapstructure path, so these are bound one by
// one on top.
var nestedFlagKeys = map[string]string{
	"policy.address":           "policy-address",
	"policy.caBundlePath":      "ca-bundle",
	"policy.congressThreshold": "congress-threshold",
	"hook.objectPath":          "ebpf-object",
}

// loadConfig realizes the precedence flags > config file > built-in
// defaults. The merged YAML document is read into viper before the bound
// flags are unmarshalled over it, so an unset flag's default value can't
// clobber a file-provided setting.
func loadConfig(c *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	if err := viper.BindPFlags(c.Flags()); err != nil {
		utils.LogError(logger, err, "failed to bind flags to config")
		return err
	}
	for key, name := range nestedFlagKeys {
		if err := viper.BindPFlag(key, c.Flags().Lookup(name)); err != nil {
			utils.LogError(logger, err, "failed to bind flag to config key", zap.String("key", key))
			return err
		}
	}

	doc := config.GetDefaultConfig()
	if configPath := viper.GetString("configPath"); configPath != "" {
		merged, err := config.MergedYAML(configPath)
		if err != nil {
			utils.LogError(logger, err, "failed to load config file", zap.String("path", configPath))
			return err
		}
		doc = merged
	}

	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(strings.NewReader(doc)); err != nil {
		utils.LogError(logger, err, "failed to read merged config")
		return err
	}
	if err := viper.Unmarshal(cfg); err != nil {
		utils.LogError(logger, err, "failed to unmarshal config")
		return err
	}

	// The logger was built from the defaults before flags and the config
	// file were parsed; apply the resolved level to its shared atomic level.
	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	} else if parsed, perr := zapcore.ParseLevel(cfg.Log.Level); perr == nil {
		level = parsed
	}
	trustbaselog.LogCfg.Level.SetLevel(level)
	return nil
}

func runInterceptor(ctx context.Context, logger *zap.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := policy.NewDefaultEngine(cfg.Policy.CABundlePath, logger)
	if err != nil {
		utils.LogError(logger, err, "failed to build default policy engine")
		return err
	}
	submitter := policy.NewAsync(engine, logger)
	h := handler.NewTLSHandler(logger, submitter)

	installer := newInstaller(logger, cfg)
	c := core.New(logger, cfg, h, installer)

	logger.Info("starting interceptor", zap.Any("bypassRules", cfg.BypassRules))
	return c.Run(ctx)
}
