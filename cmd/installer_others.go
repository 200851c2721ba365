//go:build !linux

package cmd

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/config"
	"github.com/brightcandlelight/trustbase-linux/pkg/core"
)

type unsupportedInstaller struct{}

func (unsupportedInstaller) Load(ctx context.Context, _ core.Dispatcher) error {
	<-ctx.Done()
	return fmt.Errorf("trustbase: transport hook installation is only supported on linux (running on %s)", runtime.GOOS)
}

func newInstaller(_ *zap.Logger, _ *config.Config) core.Installer {
	return unsupportedInstaller{}
}
