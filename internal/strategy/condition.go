// Package strategy implements the five-phase decision state machine that
// turns streaming indicator snapshots into entry/exit trade intents.
package strategy

import (
	"fmt"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Op is a comparison operator in a condition leaf.
type Op string

const (
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpEQ  Op = "=="
	OpNEQ Op = "!="
)

// ParseOp validates an operator string from configuration.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNEQ:
		return Op(s), nil
	default:
		return "", fmt.Errorf("operator %q: %w", s, domain.ErrInvalidCondition)
	}
}

// Condition is a closed sum over the three node kinds: Leaf, And, Or. The
// sealed marker method keeps evaluation exhaustive: new node kinds are a
// compile-time decision, not dynamic dispatch.
type Condition interface {
	isCondition()
	// Eval returns whether the condition holds for the snapshot and the
	// indicator identities that were referenced but absent. A missing
	// indicator fails closed: the leaf is false, never true.
	Eval(snap *domain.IndicatorSnapshot) (bool, []string)
}

// Leaf compares one indicator value against a literal threshold.
type Leaf struct {
	Indicator string
	Op        Op
	Threshold float64
}

func (Leaf) isCondition() {}

// Eval implements Condition.
func (l Leaf) Eval(snap *domain.IndicatorSnapshot) (bool, []string) {
	v, ok := snap.Value(l.Indicator)
	if !ok {
		return false, []string{l.Indicator}
	}
	switch l.Op {
	case OpGT:
		return v > l.Threshold, nil
	case OpGTE:
		return v >= l.Threshold, nil
	case OpLT:
		return v < l.Threshold, nil
	case OpLTE:
		return v <= l.Threshold, nil
	case OpEQ:
		return v == l.Threshold, nil
	case OpNEQ:
		return v != l.Threshold, nil
	}
	return false, nil
}

// And holds when every child holds. Children are still all evaluated so every
// missing indicator is collected for reporting.
type And struct {
	Children []Condition
}

func (And) isCondition() {}

// Eval implements Condition.
func (a And) Eval(snap *domain.IndicatorSnapshot) (bool, []string) {
	result := true
	var missing []string
	for _, c := range a.Children {
		ok, m := c.Eval(snap)
		missing = append(missing, m...)
		if !ok {
			result = false
		}
	}
	return result, missing
}

// Or holds when at least one child holds.
type Or struct {
	Children []Condition
}

func (Or) isCondition() {}

// Eval implements Condition.
func (o Or) Eval(snap *domain.IndicatorSnapshot) (bool, []string) {
	result := false
	var missing []string
	for _, c := range o.Children {
		ok, m := c.Eval(snap)
		missing = append(missing, m...)
		if ok {
			result = true
		}
	}
	return result, missing
}
