package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/delimvm/delim/program"
	"github.com/delimvm/delim/registry"
	"github.com/delimvm/delim/vm"
)

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Run a registered program and emit its effect tree as JSON",
	ArgsUsage: "<program>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Print event statistics to stderr",
		},
	},
	Action: reportAction,
}

// effectNode is one dispatched effect in the report tree.
type effectNode struct {
	Effect   string        `json:"effect"`
	Handlers []handlerNode `json:"handlers"`
	Outcome  string        `json:"outcome"`
	Value    string        `json:"value,omitempty"`
}

type handlerNode struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

type effectTree struct {
	Program string       `json:"program"`
	Outcome string       `json:"outcome"`
	Result  string       `json:"result,omitempty"`
	Effects []effectNode `json:"effects"`
}

func reportAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: delim report <program>")
	}
	entry, err := registry.Lookup(name)
	if err != nil {
		return err
	}

	m := vm.New()
	result, vmErr := program.RunOn(m, entry.Program)

	tree := effectTree{Program: name, Outcome: "done"}
	if vmErr != nil {
		tree.Outcome = vmErr.Type.Error()
	} else {
		tree.Result = result.String()
	}

	for _, chain := range vm.AssembleActiveChain(m.CaptureLog()) {
		node := effectNode{
			Effect:  chain.EffectRepr,
			Outcome: chain.Outcome.String(),
			Value:   chain.ResultRepr,
		}
		for _, row := range chain.HandlerStack {
			node.Handlers = append(node.Handlers, handlerNode{
				Name:   row.HandlerName,
				Kind:   row.HandlerKind.String(),
				Status: row.Status.String(),
			})
		}
		tree.Effects = append(tree.Effects, node)
	}

	encoded, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	if cmd.Bool("stats") {
		fmt.Fprintf(os.Stderr, "capture events: %s, dispatches: %s\n",
			humanize.Comma(int64(len(m.CaptureLog()))),
			humanize.Comma(int64(len(tree.Effects))))
	}

	if vmErr != nil {
		printVMError(vmErr)
		os.Exit(1)
	}
	return nil
}
