// Package main is the entry point for the trustbase interceptor CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/brightcandlelight/trustbase-linux/cmd"
	"github.com/brightcandlelight/trustbase-linux/utils"
)

// version is injected at build time via -ldflags.
var version string

func main() {
	if version == "" {
		version = "dev"
	}
	utils.Version = version

	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "trustbase:", err)
		os.Exit(1)
	}
}
