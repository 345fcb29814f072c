package vm

import (
	"errors"
	"testing"

	"github.com/delimvm/delim/values"
)

// collidingKey hashes to a constant so equality must fall back to host
// equality.
type collidingKey struct {
	name string
}

func (k collidingKey) HashKey() uint64 {
	return 7
}

func (k collidingKey) EqualKey(other interface{}) bool {
	o, ok := other.(collidingKey)
	return ok && o.name == k.name
}

func TestEnvKeyStringEquality(t *testing.T) {
	a := StringKey("config")
	b := StringKey("config")
	c := StringKey("other")

	if !a.Equal(b) {
		t.Errorf("identical string keys unequal")
	}
	if a.Equal(c) {
		t.Errorf("distinct string keys equal")
	}
	if a.Hash() != b.Hash() {
		t.Errorf("identical string keys hash differently")
	}
}

func TestEnvKeyCollisionFallsBackToHostEquality(t *testing.T) {
	a, err := NewEnvKey(collidingKey{name: "a"})
	if err != nil {
		t.Fatalf("NewEnvKey: %v", err)
	}
	b, _ := NewEnvKey(collidingKey{name: "b"})
	a2, _ := NewEnvKey(collidingKey{name: "a"})

	if a.Hash() != b.Hash() {
		t.Fatalf("test requires colliding hashes")
	}
	if a.Equal(b) {
		t.Errorf("colliding keys with different host identity equal")
	}
	if !a.Equal(a2) {
		t.Errorf("equal host keys unequal")
	}

	store := NewStore()
	store.PutEnv(a, values.NewInt(1))
	store.PutEnv(b, values.NewInt(2))
	if v, _ := store.Ask(a2); !v.Equal(values.NewInt(1)) {
		t.Errorf("Ask under collision = %v, want 1", v)
	}
}

func TestEnvKeyUnhashable(t *testing.T) {
	_, err := NewEnvKey(struct{ x []int }{})
	if err == nil {
		t.Fatal("unhashable key accepted")
	}
	if !errors.Is(err.(*VMError), ErrTypeError) {
		t.Errorf("unhashable key error = %v, want type error", err)
	}
}

func TestEnvKeyIntAndBool(t *testing.T) {
	i1, err := NewEnvKey(42)
	if err != nil {
		t.Fatalf("int key: %v", err)
	}
	i2, _ := NewEnvKey(42)
	if !i1.Equal(i2) {
		t.Errorf("identical int keys unequal")
	}
	b1, err := NewEnvKey(true)
	if err != nil {
		t.Fatalf("bool key: %v", err)
	}
	b2, _ := NewEnvKey(false)
	if b1.Equal(b2) {
		t.Errorf("true and false keys equal")
	}
}
