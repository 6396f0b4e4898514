// Command lucia runs the home-automation agent orchestrator.
//
// Usage:
//
//	lucia serve --config lucia.yaml
//	lucia validate --config lucia.yaml
//	lucia version
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	lucia "github.com/lucia-ai/lucia"
	"github.com/lucia-ai/lucia/pkg/config"
	"github.com/lucia-ai/lucia/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the orchestrator."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"lucia.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(*CLI) error {
	fmt.Println(lucia.GetVersion().String())
	return nil
}

// ValidateCmd loads and validates a config file without starting
// anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid: %d agent(s), %d provider(s), %d tool server(s)\n",
		cli.Config, len(cfg.Agents), len(cfg.Providers), len(cfg.ToolServers))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("lucia"),
		kong.Description("Lucia - home-automation agent orchestrator"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
