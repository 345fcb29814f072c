package vm

import (
	"fmt"
	"hash/maphash"
)

// Hashable lets host key objects supply their own hash. The hash is
// captured once at key construction.
type Hashable interface {
	HashKey() uint64
}

// KeyEqualer lets host key objects supply their own equality, used to
// resolve hash collisions.
type KeyEqualer interface {
	EqualKey(other interface{}) bool
}

var envKeySeed = maphash.MakeSeed()

// EnvKey wraps a host environment key, preserving host hash/equality
// semantics for the store's environment and lazy-result maps. The hash is
// computed once; equality falls back to host equality on collision.
type EnvKey struct {
	object interface{}
	hash   uint64
	repr   string
}

// NewEnvKey builds an EnvKey from a host object. Strings, integers and
// booleans hash natively; other objects must implement Hashable.
func NewEnvKey(obj interface{}) (*EnvKey, error) {
	hash, err := hashEnvObject(obj)
	if err != nil {
		return nil, err
	}
	return &EnvKey{
		object: obj,
		hash:   hash,
		repr:   fmt.Sprintf("%v", obj),
	}, nil
}

// StringKey builds an EnvKey from a plain string.
func StringKey(key string) *EnvKey {
	k, _ := NewEnvKey(key)
	return k
}

func hashEnvObject(obj interface{}) (uint64, error) {
	switch v := obj.(type) {
	case string:
		return maphash.String(envKeySeed, v), nil
	case int:
		return maphash.String(envKeySeed, fmt.Sprintf("i%d", v)), nil
	case int64:
		return maphash.String(envKeySeed, fmt.Sprintf("i%d", v)), nil
	case bool:
		if v {
			return maphash.String(envKeySeed, "b1"), nil
		}
		return maphash.String(envKeySeed, "b0"), nil
	case Hashable:
		return v.HashKey(), nil
	default:
		return 0, NewVMError(ErrTypeError, fmt.Sprintf("unhashable environment key %T", obj))
	}
}

// Object returns the wrapped host key object.
func (k *EnvKey) Object() interface{} {
	return k.object
}

// Hash returns the hash captured at construction.
func (k *EnvKey) Hash() uint64 {
	return k.hash
}

// Repr returns the display form used in error messages.
func (k *EnvKey) Repr() string {
	return k.repr
}

// Equal compares two keys: hash first, host equality on collision.
func (k *EnvKey) Equal(other *EnvKey) bool {
	if other == nil {
		return false
	}
	if k.hash != other.hash {
		return false
	}
	if eq, ok := k.object.(KeyEqualer); ok {
		return eq.EqualKey(other.object)
	}
	return k.object == other.object
}
