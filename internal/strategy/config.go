package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/indicator"
)

// IndicatorRef names one indicator variant a strategy depends on.
type IndicatorRef struct {
	Name   string             `toml:"name"`
	Params map[string]float64 `toml:"params"`
}

// ConditionDoc is the serialized form of a condition node. Exactly one of
// the leaf fields, All, or Any must be populated.
type ConditionDoc struct {
	Indicator string  `toml:"indicator"`
	Op        string  `toml:"op"`
	Threshold float64 `toml:"threshold"`

	All []ConditionDoc `toml:"all"`
	Any []ConditionDoc `toml:"any"`
}

// GroupDocs bundles the five named condition groups of one strategy.
type GroupDocs struct {
	S1  ConditionDoc `toml:"s1"`
	O1  ConditionDoc `toml:"o1"`
	Z1  ConditionDoc `toml:"z1"`
	ZE1 ConditionDoc `toml:"ze1"`
	E1  ConditionDoc `toml:"e1"`
}

// Doc is one strategy configuration document as consumed from TOML. The core
// validates every referenced variant against the registry before activating
// any instance.
type Doc struct {
	ID          string         `toml:"id"`
	Symbols     []string       `toml:"symbols"`
	CooldownSec float64        `toml:"cooldown_sec"`
	Indicators  []IndicatorRef `toml:"indicators"`
	Groups      GroupDocs      `toml:"groups"`
}

// Compiled is a validated, immutable strategy configuration ready for
// instance creation.
type Compiled struct {
	ID       string
	Symbols  []string
	Cooldown time.Duration
	S1       Condition
	O1       Condition
	Z1       Condition
	ZE1      Condition
	E1       Condition
}

// Compile validates a strategy document against the registry and builds the
// condition trees. Any unknown variant or malformed group yields a named
// configuration error; compilation failures are fatal at activation time,
// never at runtime.
func Compile(doc Doc, registry *indicator.Registry) (*Compiled, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("strategy: missing id: %w", domain.ErrInvalidCondition)
	}
	if len(doc.Symbols) == 0 {
		return nil, fmt.Errorf("strategy %s: no symbols: %w", doc.ID, domain.ErrInvalidCondition)
	}
	if doc.CooldownSec < 0 {
		return nil, fmt.Errorf("strategy %s: negative cooldown: %w", doc.ID, domain.ErrInvalidCondition)
	}

	// Register every declared indicator so the engine computes it. A shared
	// identity across strategies resolves to the same variant.
	for _, ref := range doc.Indicators {
		if _, err := registry.Ensure(ref.Name, ref.Params); err != nil {
			return nil, fmt.Errorf("strategy %s: indicator %s: %w", doc.ID, ref.Name, err)
		}
	}

	compiled := &Compiled{
		ID:       doc.ID,
		Symbols:  append([]string(nil), doc.Symbols...),
		Cooldown: time.Duration(doc.CooldownSec * float64(time.Second)),
	}

	groups := []struct {
		name string
		doc  ConditionDoc
		dst  *Condition
	}{
		{"S1", doc.Groups.S1, &compiled.S1},
		{"O1", doc.Groups.O1, &compiled.O1},
		{"Z1", doc.Groups.Z1, &compiled.Z1},
		{"ZE1", doc.Groups.ZE1, &compiled.ZE1},
		{"E1", doc.Groups.E1, &compiled.E1},
	}
	for _, g := range groups {
		cond, err := compileNode(g.doc, registry)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: group %s: %w", doc.ID, g.name, err)
		}
		*g.dst = cond
	}
	return compiled, nil
}

// compileNode turns one document node into a Condition, verifying every leaf
// reference exists in the registry.
func compileNode(doc ConditionDoc, registry *indicator.Registry) (Condition, error) {
	populated := 0
	if doc.Indicator != "" {
		populated++
	}
	if len(doc.All) > 0 {
		populated++
	}
	if len(doc.Any) > 0 {
		populated++
	}
	if populated != 1 {
		return nil, fmt.Errorf("node must be exactly one of leaf, all, any: %w", domain.ErrInvalidCondition)
	}

	switch {
	case doc.Indicator != "":
		op, err := ParseOp(doc.Op)
		if err != nil {
			return nil, err
		}
		if !registry.Has(doc.Indicator) {
			return nil, fmt.Errorf("indicator %s: %w", doc.Indicator, domain.ErrUnknownVariant)
		}
		return Leaf{Indicator: doc.Indicator, Op: op, Threshold: doc.Threshold}, nil

	case len(doc.All) > 0:
		children, err := compileChildren(doc.All, registry)
		if err != nil {
			return nil, err
		}
		return And{Children: children}, nil

	default:
		children, err := compileChildren(doc.Any, registry)
		if err != nil {
			return nil, err
		}
		return Or{Children: children}, nil
	}
}

func compileChildren(docs []ConditionDoc, registry *indicator.Registry) ([]Condition, error) {
	children := make([]Condition, 0, len(docs))
	for i, d := range docs {
		c, err := compileNode(d, registry)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		children = append(children, c)
	}
	return children, nil
}
