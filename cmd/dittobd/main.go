// Command dittobd inspects and maintains dittobd exports without going
// through nbdkit.
//
// Usage:
//
//	dittobd config [key=value ...]   print the effective configuration
//	dittobd map [key=value ...]      print the allocation map of the store
//	dittobd gc [key=value ...]       delete stored blocks past the export size
//	dittobd schema [file]            write the JSON schema of the config file
//
// Parameters are the same as the plugin's: "dittobd map config=/etc/dittobd.yaml".
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/blockdev"
	"github.com/marmos91/dittobd/pkg/config"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dittobd: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "dittobd",
		Usage:     "Inspect and maintain dittobd block stores",
		Version:   blockdev.Version,
		ArgsUsage: "[key=value ...]",
		Description: "Commands take the nbdkit plugin parameters; a bare value is the size.\n\n" +
			config.Help,
		HideHelpCommand: true,
		Commands: []*cli.Command{
			{
				Name:      "config",
				Usage:     "Print the effective configuration as YAML",
				ArgsUsage: "[key=value ...]",
				Action: func(c *cli.Context) error {
					return runConfig(c.App.Writer, c.Args().Slice())
				},
			},
			{
				Name:      "map",
				Usage:     "Print the allocation map of the configured block store",
				ArgsUsage: "[key=value ...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "summary", Usage: "Only print allocated and total bytes"},
				},
				Action: func(c *cli.Context) error {
					return runMap(c.Context, c.App.Writer, c.Args().Slice(), c.Bool("summary"))
				},
			},
			{
				Name:      "gc",
				Usage:     "Delete stored blocks past the export size",
				ArgsUsage: "[key=value ...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "Only report the blocks that would be deleted"},
					&cli.IntFlag{Name: "batch", Usage: "Blocks deleted per request (default gc.batch_size)"},
				},
				Action: func(c *cli.Context) error {
					return runGC(c.Context, c.App.Writer, c.Args().Slice(), gcOptions{
						dryRun: c.Bool("dry-run"),
						batch:  c.Int("batch"),
					})
				},
			},
			{
				Name:      "schema",
				Usage:     "Write the JSON schema of the configuration file",
				ArgsUsage: "[file]",
				Action: func(c *cli.Context) error {
					return runSchema(c.App.Writer, c.Args().First())
				},
			},
		},
	}
}

// loadParams parses key=value arguments the way nbdkit does: a bare value
// is the size.
func loadParams(args []string) (*config.Config, error) {
	params := config.NewParams()
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			key, value = config.MagicKey, arg
		}
		if err := params.Set(key, value); err != nil {
			return nil, err
		}
	}

	cfg, err := params.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConfig(out io.Writer, args []string) error {
	cfg, err := loadParams(args)
	if err != nil {
		return err
	}
	rendered, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, rendered)
	return err
}
