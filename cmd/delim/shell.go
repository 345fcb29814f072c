package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/delimvm/delim/program"
	"github.com/delimvm/delim/registry"
	"github.com/delimvm/delim/vm"
)

// runInteractiveShell runs registered programs and prints each result or
// error; the step command also prints the kind of every bridge call.
func runInteractiveShell() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "delim> ",
		HistoryLimit:    256,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("Interactive shell. Commands: run <program>, step <program>, list, quit")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "list":
			for _, entry := range registry.All() {
				fmt.Printf("  %-24s %s\n", entry.Name, entry.Description)
			}
		case "run":
			if len(fields) < 2 {
				fmt.Println("usage: run <program>")
				continue
			}
			shellRun(fields[1], false)
		case "step":
			if len(fields) < 2 {
				fmt.Println("usage: step <program>")
				continue
			}
			shellRun(fields[1], true)
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func shellRun(name string, stepwise bool) {
	entry, err := registry.Lookup(name)
	if err != nil {
		fmt.Println(err)
		return
	}

	m := vm.New()
	exec := program.NewExecutor()
	m.StartProgram(entry.Program)

	for {
		ev := m.Drive()
		switch ev.Kind {
		case vm.EventDone:
			fmt.Printf("=> %s\n", ev.Value.String())
			return
		case vm.EventError:
			fmt.Printf("!! %v\n", ev.Err)
			return
		case vm.EventNeedsHost:
			if stepwise {
				fmt.Printf("-- %s\n", ev.Call.Kind)
			}
			if err := m.ResumeHost(exec.Execute(ev.Call)); err != nil {
				fmt.Printf("!! %v\n", err)
				return
			}
		default:
			fmt.Println("!! unexpected drive event")
			return
		}
	}
}
