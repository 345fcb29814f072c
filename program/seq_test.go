package program

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/delimvm/delim/values"
	"github.com/delimvm/delim/vm"
)

func TestSeqDrivesPureProgram(t *testing.T) {
	prog := NewSeq(
		func(v *values.Value) SeqOut {
			require.True(t, v.IsUnit(), "first step input must be unit")
			return YieldOut(Pure(values.NewInt(7)))
		},
		func(v *values.Value) SeqOut {
			return ReturnOut(v)
		},
	)

	got, vmErr := Run(prog)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(7)), "got %s", got)
}

func TestSeqStateScript(t *testing.T) {
	body := NewSeq(
		func(v *values.Value) SeqOut {
			return YieldOut(Put("x", values.NewInt(3)))
		},
		func(v *values.Value) SeqOut {
			return YieldOut(Get("x"))
		},
		func(v *values.Value) SeqOut {
			return ReturnOut(v)
		},
	)
	main := NewSeq(
		func(v *values.Value) SeqOut {
			return YieldOut(WithState(body))
		},
		func(v *values.Value) SeqOut {
			return ReturnOut(v)
		},
	)

	m := vm.New()
	got, vmErr := RunOn(m, main)
	require.Nil(t, vmErr)
	require.True(t, got.Equal(values.NewInt(3)))

	state := m.Store().StateSnapshot()
	require.True(t, state["x"].Equal(values.NewInt(3)))
}

func TestSeqRefusesProtocolMisuse(t *testing.T) {
	s := NewSeq(func(v *values.Value) SeqOut { return ReturnOut(values.NewNull()) })
	if res := s.Send(values.NewNull()); res.Err == nil {
		t.Error("Send before Next should fail")
	}
	_ = s.Next()
	if res := s.Send(values.NewNull()); res.Err == nil {
		t.Error("Send after completion should fail")
	}
}

func TestSeqThrowPropagates(t *testing.T) {
	s := NewSeq(
		func(v *values.Value) SeqOut { return YieldOut(Pure(values.NewInt(1))) },
	)
	_ = s.Next()
	res := s.Throw(vm.RuntimeException("cancelled"))
	require.NotNil(t, res.Err)
	require.Contains(t, res.Err.String(), "cancelled")
}

func TestGenThrowIsRecoverable(t *testing.T) {
	// Gen programs observe injected exceptions as panics and may recover.
	g := NewGen(func(y *Yielder) (*values.Value, error) {
		result := values.NewString("uninterrupted")
		func() {
			defer func() {
				if r := recover(); r != nil {
					result = values.NewString("caught")
				}
			}()
			y.Yield(Pure(values.NewNull()))
		}()
		return result, nil
	})

	res := g.Next()
	require.NotNil(t, res.Yielded, "program should park at its yield")

	res = g.Throw(vm.RuntimeException("cancelled"))
	require.NotNil(t, res.Returned, "recovered program should return")
	require.True(t, res.Returned.Equal(values.NewString("caught")))
}

func TestGenUncaughtThrowSurfacesException(t *testing.T) {
	g := NewGen(func(y *Yielder) (*values.Value, error) {
		y.Yield(Pure(values.NewNull()))
		return values.NewNull(), nil
	})

	_ = g.Next()
	res := g.Throw(vm.RuntimeException("cancelled"))
	require.NotNil(t, res.Err)
	require.Contains(t, res.Err.String(), "cancelled")
}
