package tracedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/delimvm/delim/vm"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveAndLoadRun(t *testing.T) {
	db := openTestDB(t)

	events := []vm.CaptureEvent{
		{Kind: vm.EvDispatchStarted, DispatchID: vm.DispatchID(1), EffectRepr: "Get(\"x\")", HandlerName: "stdlib:State"},
		{Kind: vm.EvHandlerCompleted, DispatchID: vm.DispatchID(1), HandlerName: "stdlib:State",
			Action: &vm.HandlerAction{Kind: vm.ActionResumed, Repr: "3"}},
		{Kind: vm.EvResumed, DispatchID: vm.DispatchID(1), HandlerName: "stdlib:State", ValueRepr: "3"},
	}

	runID, err := db.SaveRun("state_demo", "done", events)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	rows, err := db.LoadRun(runID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "DispatchStarted", rows[0].Kind)
	require.Equal(t, `Get("x")`, rows[0].Effect)
	require.Equal(t, "HandlerCompleted", rows[1].Kind)
	require.Equal(t, "resumed", rows[1].Action)
	require.Equal(t, "Resumed", rows[2].Kind)
	require.Equal(t, "3", rows[2].Value)
}

func TestRunsAreIsolated(t *testing.T) {
	db := openTestDB(t)

	id1, err := db.SaveRun("a", "done", []vm.CaptureEvent{{Kind: vm.EvFrameEntered}})
	require.NoError(t, err)
	id2, err := db.SaveRun("b", "done", []vm.CaptureEvent{{Kind: vm.EvFrameEntered}, {Kind: vm.EvFrameExited}})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	rows1, err := db.LoadRun(id1)
	require.NoError(t, err)
	require.Len(t, rows1, 1)

	rows2, err := db.LoadRun(id2)
	require.NoError(t, err)
	require.Len(t, rows2, 2)

	n, err := db.RunCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestLoadUnknownRunIsEmpty(t *testing.T) {
	db := openTestDB(t)
	rows, err := db.LoadRun("no-such-run")
	require.NoError(t, err)
	require.Empty(t, rows)
}
