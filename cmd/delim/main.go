package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/delimvm/delim/pkg/tracedb"
	"github.com/delimvm/delim/program"
	"github.com/delimvm/delim/registry"
	"github.com/delimvm/delim/version"
	"github.com/delimvm/delim/vm"
)

func main() {
	app := &cli.Command{
		Name:  "delim",
		Usage: "An algebraic-effects VM for Go hosts",
		Commands: []*cli.Command{
			runCommand,
			reportCommand,
			listCommand,
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "a",
				Local: true,
				Usage: "Run as interactive shell",
			},
			&cli.BoolFlag{
				Name:    "version",
				Local:   true,
				Aliases: []string{"V"},
				Usage:   "Show version",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Println(version.Version())
				return nil
			}
			if cmd.Bool("a") {
				return runInteractiveShell()
			}
			return cli.ShowAppHelp(cmd)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a registered program to completion",
	ArgsUsage: "<program>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable VM debug logging",
		},
		&cli.StringFlag{
			Name:  "trace-db",
			Usage: "Persist the capture log to a sqlite database at <path>",
		},
	},
	Action: runAction,
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: delim run <program>")
	}
	entry, err := registry.Lookup(name)
	if err != nil {
		return err
	}

	m := vm.New()
	if cmd.Bool("verbose") {
		logger, logErr := zap.NewDevelopment()
		if logErr != nil {
			return logErr
		}
		m.SetLogger(logger)
	}

	result, vmErr := program.RunOn(m, entry.Program)

	if path := cmd.String("trace-db"); path != "" {
		if dbErr := persistTrace(path, name, m, vmErr); dbErr != nil {
			fmt.Fprintf(os.Stderr, "warning: trace not persisted: %v\n", dbErr)
		}
	}

	if vmErr != nil {
		printVMError(vmErr)
		os.Exit(1)
	}
	fmt.Println(result.String())
	return nil
}

func persistTrace(path, name string, m *vm.VM, vmErr *vm.VMError) error {
	db, err := tracedb.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	outcome := "done"
	if vmErr != nil {
		outcome = vmErr.Error()
	}
	runID, err := db.SaveRun(name, outcome, m.CaptureLog())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "trace saved: run %s\n", runID)
	return nil
}

// errorReport is the JSON form of a VMError surfaced on exit.
type errorReport struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	ContID    uint64 `json:"cont_id,omitempty"`
	Effect    string `json:"effect,omitempty"`
	Marker    uint64 `json:"marker,omitempty"`
	Exception string `json:"exception,omitempty"`
}

func printVMError(vmErr *vm.VMError) {
	report := errorReport{
		Kind:    vmErr.Type.Error(),
		Message: vmErr.Message,
		ContID:  uint64(vmErr.ContID),
		Effect:  vmErr.EffectRepr,
		Marker:  uint64(vmErr.Marker),
	}
	if vmErr.Exception != nil {
		report.Exception = vmErr.Exception.String()
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", vmErr)
		return
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		color.New(color.FgRed).Fprintln(os.Stderr, string(encoded))
		return
	}
	fmt.Fprintln(os.Stderr, string(encoded))
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List registered programs",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		for _, entry := range registry.All() {
			fmt.Printf("%-24s %s\n", entry.Name, entry.Description)
		}
		return nil
	},
}
