package rules

import "slices"

// Facts resolves trait values for the user under evaluation. Lookups happen
// lazily, one per leaf condition actually reached, so short-circuiting in
// All/Any skips the lookups of children that were never evaluated.
type Facts interface {
	Lookup(key string) (value string, ok bool)
}

// FactMap adapts a materialized trait map to the Facts interface.
type FactMap map[string]string

// Lookup implements Facts.
func (m FactMap) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Evaluate walks a parsed predicate tree against a user's traits and reports
// whether it matches. It cannot fail: every malformed or unrecognized shape
// was already mapped to a safe default by ParsePredicate, and the defaults
// here cover anything that slips through.
func Evaluate(n Node, facts Facts) bool {
	switch node := n.(type) {
	case All:
		for _, child := range node.Children {
			if !Evaluate(child, facts) {
				return false
			}
		}
		return true
	case Any:
		for _, child := range node.Children {
			if Evaluate(child, facts) {
				return true
			}
		}
		return false
	case Not:
		return !Evaluate(node.Child, facts)
	case Cond:
		return node.eval(facts)
	case Always:
		return true
	default:
		// Unknown node types match. Fail open, never error.
		return true
	}
}

func (c Cond) eval(facts Facts) bool {
	val, ok := facts.Lookup(c.Trait)
	switch c.Op {
	case OpEq:
		return ok && c.Value != nil && val == *c.Value
	case OpNeq:
		// A user without the trait satisfies neq: missing never equals
		// anything. Intentional asymmetry with eq and in, which never
		// match on a missing trait.
		if !ok {
			return true
		}
		return c.Value == nil || val != *c.Value
	case OpIn:
		if !ok {
			return false
		}
		return slices.Contains(c.Values, val)
	default:
		// Unknown operators never match.
		return false
	}
}
