//go:build linux

package cmd

import (
	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/config"
	"github.com/brightcandlelight/trustbase-linux/pkg/agent/hooks/linux"
	"github.com/brightcandlelight/trustbase-linux/pkg/core"
)

func newInstaller(logger *zap.Logger, cfg *config.Config) core.Installer {
	return linux.NewHooks(logger, cfg)
}
