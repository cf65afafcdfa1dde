// pushwatch connects to the realtime push service, subscribes to the topics given
// on the command line and prints every notification.
//
// Usage:
//
//	pushwatch --config configs/pushwatch.yaml watch conversation:42 badge
//	pushwatch --config configs/pushwatch.yaml servertime
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/realtime-client/internal/version"
)

type cliArgs struct {
	ConfigFile string
	LogLevel   string
	JSONLog    bool
}

var cmdArgs cliArgs

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pushwatch:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "pushwatch",
		Usage:   "watch realtime push topics",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to config file",
				Aliases:     []string{"c"},
				EnvVars:     []string{"PUSHWATCH_CONFIG"},
				Value:       "configs/pushwatch.yaml",
				Destination: &cmdArgs.ConfigFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "override log.level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Destination: &cmdArgs.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Destination: &cmdArgs.JSONLog,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "subscribe to topics and print notifications",
				ArgsUsage: "TOPIC [TOPIC...]",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "stats-interval",
						Usage: "log client stats periodically (0 = never)",
					},
				},
				Action: runWatch,
			},
			{
				Name:   "servertime",
				Usage:  "estimate the server clock and print it",
				Action: runServerTime,
			},
		},
	}
}
