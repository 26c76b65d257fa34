package core

import (
	"fmt"
	"reflect"
	"strings"
)

var qexprOperators = map[string]struct{}{
	"=": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
	"in": {}, "not in": {}, "range": {}, "like": {},
}

// QExpr is a comparator expression for use in query constraints, replacing
// the implicit equality applied to plain values. "in" and "not in" take a
// non-empty sequence operand; "range" takes exactly two inclusive bounds.
type QExpr struct {
	op      string
	operand any
	list    []any
}

// NewQExpr builds a query expression from an operator and its operand.
func NewQExpr(operator string, operand any) (*QExpr, error) {
	operator = strings.ToLower(operator)
	if _, ok := qexprOperators[operator]; !ok {
		return nil, wrapError("qexpr", fmt.Errorf("%w: unsupported operator %q", ErrValidation, operator))
	}

	e := &QExpr{op: operator, operand: operand}
	switch operator {
	case "in", "not in", "range":
		list, ok := operandList(operand)
		if !ok {
			return nil, wrapError("qexpr", fmt.Errorf("%w: operator %q requires a sequence operand", ErrValidation, operator))
		}
		if operator == "range" && len(list) != 2 {
			return nil, wrapError("qexpr", fmt.Errorf("%w: range requires exactly two bounds, got %d", ErrValidation, len(list)))
		}
		if operator != "range" && len(list) == 0 {
			return nil, wrapError("qexpr", fmt.Errorf("%w: operator %q requires a non-empty sequence", ErrValidation, operator))
		}
		e.list = list
	}
	return e, nil
}

// operandList converts any slice or array operand into []any.
func operandList(operand any) ([]any, bool) {
	if list, ok := operand.([]any); ok {
		return list, true
	}
	v := reflect.ValueOf(operand)
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return nil, false
	}
	list := make([]any, v.Len())
	for i := range list {
		list[i] = v.Index(i).Interface()
	}
	return list, true
}

// sql renders the expression against a column with bound parameters.
func (e *QExpr) sql(col string) (string, []any) {
	switch e.op {
	case "range":
		return fmt.Sprintf("%s >= ? AND %s <= ?", col, col), []any{e.list[0], e.list[1]}
	case "in", "not in":
		return fmt.Sprintf("%s %s (%s)", col, strings.ToUpper(e.op), placeholders(len(e.list))), e.list
	default:
		return fmt.Sprintf("%s %s ?", col, strings.ToUpper(e.op)), []any{e.operand}
	}
}

// qexprFor wraps a plain value into an equality expression; existing
// expressions pass through. A copy is returned so coercion of the operand
// never mutates a caller-owned QExpr.
func qexprFor(value any) (*QExpr, error) {
	if e, ok := value.(*QExpr); ok {
		cp := *e
		cp.list = append([]any(nil), e.list...)
		return &cp, nil
	}
	return NewQExpr("=", value)
}
