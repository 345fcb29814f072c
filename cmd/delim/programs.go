package main

import (
	"github.com/delimvm/delim/program"
	"github.com/delimvm/delim/registry"
	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

func init() {
	registry.Register("pure", "Yield a pure value and return it",
		program.Define("pure", func(y *program.Yielder) (*values.Value, error) {
			return y.Yield(program.Pure(values.NewInt(7))), nil
		}))

	registry.Register("counter", "State round-trip with the stdlib state handler",
		program.Define("counter", func(y *program.Yielder) (*values.Value, error) {
			body := program.Define("counter_body", func(y *program.Yielder) (*values.Value, error) {
				y.Yield(program.Put("n", values.NewInt(0)))
				for i := 0; i < 3; i++ {
					y.Yield(program.Modify("n", func(v *values.Value) *values.Value {
						n, _ := v.AsInt()
						return values.NewInt(n + 1)
					}))
				}
				return y.Yield(program.Get("n")), nil
			})
			return y.Yield(program.WithState(body.Call())), nil
		}))

	registry.Register("greet", "Host handler resuming a custom effect",
		program.Define("greet", func(y *program.Yielder) (*values.Value, error) {
			handler := program.Handler("greeter", func(y *program.Yielder, eff *vm.Effect, k *vm.Continuation) (*values.Value, error) {
				name, _ := values.FromHost(eff.Host).AsString()
				return y.Yield(program.Resume(k, values.NewString("hello, "+name))), nil
			})
			body := program.Define("greet_body", func(y *program.Yielder) (*values.Value, error) {
				return y.Perform("world"), nil
			})
			return y.Yield(program.WithHandler(handler, body.Call())), nil
		}))

	registry.Register("journal", "Writer handler accumulating log entries",
		program.Define("journal", func(y *program.Yielder) (*values.Value, error) {
			body := program.Define("journal_body", func(y *program.Yielder) (*values.Value, error) {
				y.Yield(program.Tell(values.NewString("step one")))
				y.Yield(program.Tell(values.NewString("step two")))
				return values.NewString("journaled"), nil
			})
			return y.Yield(program.WithWriter(body.Call())), nil
		}))
}
