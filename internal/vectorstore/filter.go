package vectorstore

import (
	"fmt"
	"strings"
)

// Op is a filter comparison operator.
type Op string

const (
	// OpEq matches when the field equals the value.
	OpEq Op = "eq"
	// OpIn matches when the field equals any of the values.
	OpIn Op = "in"
	// OpGte matches when the numeric field is at least the value.
	OpGte Op = "gte"
)

// Condition is a single field predicate.
type Condition struct {
	Field string
	Op    Op

	// Value is the operand for OpEq (string, int or bool).
	Value any
	// Values are the operands for OpIn.
	Values []string
	// Min is the operand for OpGte.
	Min float64
}

// Filter is a conjunction of conditions. A nil or empty Filter matches
// everything.
//
// Build filters fluently:
//
//	f := vectorstore.NewFilter().
//	    Eq("source_path", "notes/a.md").
//	    In("type", "deductive", "inductive").
//	    Gte("confidence", 0.5)
type Filter struct {
	Conditions []Condition
}

// NewFilter creates an empty filter.
func NewFilter() *Filter {
	return &Filter{}
}

// Eq adds an equality condition.
func (f *Filter) Eq(field string, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: OpEq, Value: value})
	return f
}

// In adds a one-of condition. No values leaves the filter unchanged, and a
// single value is stored as an equality so backends can push it down.
func (f *Filter) In(field string, values ...string) *Filter {
	switch len(values) {
	case 0:
		return f
	case 1:
		return f.Eq(field, values[0])
	}
	vs := make([]string, len(values))
	copy(vs, values)
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: OpIn, Values: vs})
	return f
}

// Gte adds a numeric lower bound (inclusive).
func (f *Filter) Gte(field string, min float64) *Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: OpGte, Min: min})
	return f
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.Conditions) == 0
}

// Validate checks that every condition is well formed.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		if c.Field == "" {
			return fmt.Errorf("%w: filter condition without field", ErrInvalidConfig)
		}
		switch c.Op {
		case OpEq:
			switch c.Value.(type) {
			case string, int, int64, bool:
			default:
				return fmt.Errorf("%w: unsupported equality value %T for %s", ErrInvalidConfig, c.Value, c.Field)
			}
		case OpIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: empty value set for %s", ErrInvalidConfig, c.Field)
			}
		case OpGte:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidConfig, c.Op)
		}
	}
	return nil
}

// Match evaluates the filter against document metadata.
func (f *Filter) Match(md Metadata) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Conditions {
		if !c.match(md) {
			return false
		}
	}
	return true
}

func (c Condition) match(md Metadata) bool {
	raw, ok := md[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return FormatValue(raw) == FormatValue(c.Value)
	case OpIn:
		got := FormatValue(raw)
		for _, v := range c.Values {
			if got == v {
				return true
			}
		}
		return false
	case OpGte:
		n, ok := toFloat(raw)
		return ok && n >= c.Min
	}
	return false
}

// String renders the filter for logs and span attributes.
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "{}"
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		switch c.Op {
		case OpEq:
			parts = append(parts, fmt.Sprintf("%s=%v", c.Field, c.Value))
		case OpIn:
			parts = append(parts, fmt.Sprintf("%s in [%s]", c.Field, strings.Join(c.Values, ",")))
		case OpGte:
			parts = append(parts, fmt.Sprintf("%s>=%g", c.Field, c.Min))
		}
	}
	return "{" + strings.Join(parts, " AND ") + "}"
}

// split separates conditions a backend can evaluate natively (pushdown) from
// those it must evaluate itself (residual).
func (f *Filter) split(native func(Condition) bool) (pushdown, residual *Filter) {
	pushdown, residual = &Filter{}, &Filter{}
	if f == nil {
		return pushdown, residual
	}
	for _, c := range f.Conditions {
		if native(c) {
			pushdown.Conditions = append(pushdown.Conditions, c)
		} else {
			residual.Conditions = append(residual.Conditions, c)
		}
	}
	return pushdown, residual
}
