// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/lockstep-party/lockstep/auth"
	"github.com/lockstep-party/lockstep/cmd/lockstep/cli"
	"github.com/lockstep-party/lockstep/lib/config"
	"github.com/lockstep-party/lockstep/lib/version"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:        "lockstep",
		Description: "Lockstep keeps a watch party's media players in step over peer-to-peer links.",
		Subcommands: []*cli.Command{
			demoCommand(os.Stdout),
			tokenCommand(os.Stdout),
			versionCommand(os.Stdout),
		},
		Examples: []cli.Example{
			{Description: "Watch three guests follow a host over in-process links", Command: "lockstep demo --guests 3"},
			{Description: "Same party over real WebRTC data channels", Command: "lockstep demo --transport webrtc"},
		},
	}
}

// globalOptions are the flags shared by commands that load
// configuration.
type globalOptions struct {
	configPath string
	logLevel   string
	username   string
}

func (g *globalOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "configuration file (YAML or JSONC); defaults to $"+config.EnvVar)
	flagSet.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&g.username, "username", "", "display name shown to other participants")
}

// load resolves the configuration and builds the logger. Flags
// override the file, the file overrides the defaults.
func (g *globalOptions) load() (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	switch {
	case g.configPath != "":
		cfg, err = config.LoadFile(g.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, nil, err
	}

	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.username != "" {
		cfg.Username = g.username
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cli.NewLogger(level), nil
}

func tokenCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "token",
		Summary: "Print a fresh access token and its fingerprint",
		Description: "Print a fresh access token and its fingerprint.\n\n" +
			"The fingerprint identifies a token in logs without revealing it.",
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			token, err := auth.GenerateAccessToken()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "token:       %s\nfingerprint: %s\n", token, auth.Fingerprint(token))
			return nil
		},
	}
}

func versionCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(context.Context, []string) error {
			fmt.Fprintln(out, version.Full())
			return nil
		},
	}
}
