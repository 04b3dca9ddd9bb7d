// Command mindgate is the knowledge-gateway CLI.
//
// Usage:
//
//	mindgate serve
//	mindgate ingest
//	mindgate reingest RESEARCH/flow.md
//	mindgate stats
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP gateway."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest the knowledge-base directory."`
	Reingest ReingestCmd `cmd:"" help:"Re-ingest a single file."`
	Stats    StatsCmd    `cmd:"" help:"Show store statistics."`

	EnvFile   string `name:"env-file" help:"Path to a .env file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("mindgate %s\n", version)
	return nil
}

// loadConfig sets up logging and reads the environment.
func (cli *CLI) loadConfig() *config.Config {
	logger.Setup(logger.Options{Level: cli.LogLevel, Format: cli.LogFormat})
	return config.Load(cli.EnvFile)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("mindgate"),
		kong.Description("mindgate - retrieval-augmented gateway over a Markdown knowledge base"),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
