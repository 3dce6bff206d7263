package rules

import (
	"encoding/json"
)

// Operator names for leaf conditions.
const (
	OpEq  = "eq"
	OpNeq = "neq"
	OpIn  = "in"
)

// Node is one node of a parsed predicate tree. The concrete types form a
// closed set: All, Any, Not, Cond, and Always.
type Node interface {
	isNode()
}

// All matches when every child matches. An empty All matches.
type All struct {
	Children []Node
}

// Any matches when at least one child matches. An empty Any never matches.
type Any struct {
	Children []Node
}

// Not inverts its child.
type Not struct {
	Child Node
}

// Cond compares a single trait value against an expected value.
//
// Value is the expected string when the stored JSON value was a string; nil
// otherwise. A trait value is always a string, so a non-string expected value
// can never compare equal. Values holds the string members of the stored
// array for the "in" operator; non-string members are dropped at parse time.
type Cond struct {
	Trait  string
	Op     string
	Value  *string
	Values []string
}

// Always matches unconditionally. The parser produces it for empty objects
// and for any node shape it does not recognize, which is what makes `{}` the
// idiomatic catch-all predicate on a low-priority fallback rule.
type Always struct{}

func (All) isNode()    {}
func (Any) isNode()    {}
func (Not) isNode()    {}
func (Cond) isNode()   {}
func (Always) isNode() {}

// ParsePredicate converts stored predicate JSON into a typed tree. It is
// total: it never returns an error. Anything it cannot make sense of maps to
// the permissive default at that point in the tree, mirroring how evaluation
// treats the same shapes.
//
// Dispatch order matters when a node carries several recognized keys: "all"
// wins over "any", which wins over "not", which wins over a leaf condition.
func ParsePredicate(raw json.RawMessage) Node {
	if len(raw) == 0 {
		return Always{}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Not a JSON object at all. Arrays, scalars, and garbage all
		// fall back to the permissive default.
		return Always{}
	}

	if children, ok := obj["all"]; ok {
		return All{Children: parseChildren(children)}
	}
	if children, ok := obj["any"]; ok {
		return Any{Children: parseChildren(children)}
	}
	if child, ok := obj["not"]; ok {
		return Not{Child: ParsePredicate(child)}
	}

	_, hasTrait := obj["trait"]
	_, hasOp := obj["op"]
	if hasTrait || hasOp {
		return parseCond(obj)
	}

	return Always{}
}

// parseChildren decodes the array under an "all"/"any" key. A value that is
// not an array yields no children, which makes the combinator behave as if
// its list were empty.
func parseChildren(raw json.RawMessage) []Node {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	children := make([]Node, 0, len(elems))
	for _, elem := range elems {
		children = append(children, ParsePredicate(elem))
	}
	return children
}

// parseCond decodes a leaf condition. Missing or mistyped fields degrade the
// same way a trait the user never recorded does: eq and in stop matching,
// neq keeps matching.
func parseCond(obj map[string]json.RawMessage) Cond {
	c := Cond{}

	if raw, ok := obj["trait"]; ok {
		var trait string
		if err := json.Unmarshal(raw, &trait); err == nil {
			c.Trait = trait
		}
	}
	if raw, ok := obj["op"]; ok {
		var op string
		if err := json.Unmarshal(raw, &op); err == nil {
			c.Op = op
		}
	}
	if raw, ok := obj["value"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			c.Value = &s
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err == nil {
			for _, elem := range elems {
				var member string
				if err := json.Unmarshal(elem, &member); err == nil {
					c.Values = append(c.Values, member)
				}
			}
		}
	}

	return c
}
