package values

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the runtime type of a VM value
type ValueType byte

const (
	TypeNull ValueType = iota
	TypeUnit
	TypeBool
	TypeInt
	TypeString
	TypeHost
	TypeContinuation
	TypeHandlers
)

// Value represents a runtime value flowing through the VM.
//
// Built-in kinds (null/unit/bool/int/string) are stored natively so common
// cases never round-trip through the host. Host objects stay opaque.
type Value struct {
	Type ValueType
	Data interface{}
}

// Continuation is the opaque captured-continuation handle carried inside a
// Value. The VM owns the concrete representation; embedders treat it as a
// token identified by its continuation id.
type Continuation interface {
	ContID() uint64
}

// Handler is the opaque installed-handler handle carried inside a handler
// list value.
type Handler interface {
	HandlerLabel() string
}

// Constructors

func NewNull() *Value {
	return &Value{Type: TypeNull, Data: nil}
}

func NewUnit() *Value {
	return &Value{Type: TypeUnit, Data: nil}
}

func NewBool(b bool) *Value {
	return &Value{Type: TypeBool, Data: b}
}

func NewInt(i int64) *Value {
	return &Value{Type: TypeInt, Data: i}
}

func NewString(s string) *Value {
	return &Value{Type: TypeString, Data: s}
}

// NewHost wraps an opaque host object. The VM never inspects it beyond
// identity; converters unwrap it on demand.
func NewHost(obj interface{}) *Value {
	return &Value{Type: TypeHost, Data: obj}
}

func NewContinuation(k Continuation) *Value {
	return &Value{Type: TypeContinuation, Data: k}
}

func NewHandlers(handlers []Handler) *Value {
	return &Value{Type: TypeHandlers, Data: handlers}
}

// FromHost converts a host object into a Value, unwrapping the built-in
// kinds the VM understands natively. A *Value passes through unchanged.
func FromHost(obj interface{}) *Value {
	switch v := obj.(type) {
	case nil:
		return NewNull()
	case *Value:
		if v == nil {
			return NewNull()
		}
		return v
	case bool:
		return NewBool(v)
	case int:
		return NewInt(int64(v))
	case int64:
		return NewInt(v)
	case string:
		return NewString(v)
	case Continuation:
		return NewContinuation(v)
	default:
		return NewHost(obj)
	}
}

// ToHost converts the value back into its host-language form.
func (v *Value) ToHost() interface{} {
	if v == nil {
		return nil
	}
	switch v.Type {
	case TypeNull, TypeUnit:
		return nil
	case TypeBool:
		return v.Data.(bool)
	case TypeInt:
		return v.Data.(int64)
	case TypeString:
		return v.Data.(string)
	default:
		return v.Data
	}
}

// Type checks

func (v *Value) IsNull() bool {
	return v.Type == TypeNull
}

func (v *Value) IsUnit() bool {
	return v.Type == TypeUnit
}

// IsNone reports whether the value carries no payload (null or unit).
func (v *Value) IsNone() bool {
	return v.Type == TypeNull || v.Type == TypeUnit
}

func (v *Value) IsHost() bool {
	return v.Type == TypeHost
}

// Accessors

func (v *Value) AsInt() (int64, bool) {
	if v.Type != TypeInt {
		return 0, false
	}
	return v.Data.(int64), true
}

func (v *Value) AsString() (string, bool) {
	if v.Type != TypeString {
		return "", false
	}
	return v.Data.(string), true
}

func (v *Value) AsBool() (bool, bool) {
	if v.Type != TypeBool {
		return false, false
	}
	return v.Data.(bool), true
}

func (v *Value) AsHost() (interface{}, bool) {
	if v.Type != TypeHost {
		return nil, false
	}
	return v.Data, true
}

func (v *Value) AsContinuation() (Continuation, bool) {
	if v.Type != TypeContinuation {
		return nil, false
	}
	return v.Data.(Continuation), true
}

func (v *Value) AsHandlers() ([]Handler, bool) {
	if v.Type != TypeHandlers {
		return nil, false
	}
	return v.Data.([]Handler), true
}

// Equal compares two values structurally. Host objects compare by interface
// equality, continuations by continuation id.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeNull, TypeUnit:
		return true
	case TypeBool:
		return v.Data.(bool) == other.Data.(bool)
	case TypeInt:
		return v.Data.(int64) == other.Data.(int64)
	case TypeString:
		return v.Data.(string) == other.Data.(string)
	case TypeContinuation:
		return v.Data.(Continuation).ContID() == other.Data.(Continuation).ContID()
	case TypeHost:
		return v.Data == other.Data
	case TypeHandlers:
		lhs := v.Data.([]Handler)
		rhs := other.Data.([]Handler)
		if len(lhs) != len(rhs) {
			return false
		}
		for i := range lhs {
			if lhs[i] != rhs[i] {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a debug representation used in logs and traces.
func (v *Value) String() string {
	if v == nil {
		return "null"
	}
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeUnit:
		return "unit"
	case TypeBool:
		return strconv.FormatBool(v.Data.(bool))
	case TypeInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case TypeString:
		return strconv.Quote(v.Data.(string))
	case TypeHost:
		return fmt.Sprintf("<host %T>", v.Data)
	case TypeContinuation:
		return fmt.Sprintf("<cont %d>", v.Data.(Continuation).ContID())
	case TypeHandlers:
		handlers := v.Data.([]Handler)
		labels := make([]string, len(handlers))
		for i, h := range handlers {
			labels[i] = h.HandlerLabel()
		}
		return "[" + strings.Join(labels, ", ") + "]"
	}
	return fmt.Sprintf("<unknown type %d>", v.Type)
}

// TypeName returns the human-readable type name used in error messages.
func (v *Value) TypeName() string {
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeUnit:
		return "unit"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeHost:
		return "host"
	case TypeContinuation:
		return "continuation"
	case TypeHandlers:
		return "handlers"
	}
	return "unknown"
}
