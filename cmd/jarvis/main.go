// Command jarvis ingests research documents into per-project namespaces and
// answers semantic queries against them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/jarvis/internal/adapters/driving/cli"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.Execute(ctx, cli.Options{
		Version:           version,
		NewSettings:       newSettingsService,
		NewServices:       newServices,
		ValidateEmbedding: validateEmbedding,
	})
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
