package rules

import (
	"encoding/json"
	"fmt"
)

// MaxLintDepth is the nesting depth beyond which the linter stops descending
// and reports the predicate as too deep. Evaluation itself has no depth
// limit; this exists to flag rules no human can review anymore.
const MaxLintDepth = 32

// Severity classifies a lint finding. The engine is fail-open, so almost
// everything the linter flags is a warning: the rule will save and evaluate,
// just probably not the way its author meant.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Problem is one lint finding, located by a JSON-path-like string.
type Problem struct {
	Path     string   `json:"path"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidateRule lints a rule's predicate and effects JSON and returns every
// finding. It reports the spots where the fail-open evaluator will silently
// do something surprising: unknown operators, mistyped values, shapes that
// collapse to always-true or never-match. An empty result means the rule
// reads the way it will evaluate.
func ValidateRule(predicate, effects json.RawMessage) []Problem {
	var problems []Problem
	problems = append(problems, lintPredicate(predicate)...)
	problems = append(problems, lintEffects(effects)...)
	return problems
}

func lintPredicate(raw json.RawMessage) []Problem {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return []Problem{{Path: "predicate", Severity: SeverityError, Message: "not valid JSON"}}
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return []Problem{{Path: "predicate", Severity: SeverityError, Message: "not valid JSON"}}
	}
	return lintNode(node, "predicate", 0)
}

func lintNode(node any, path string, depth int) []Problem {
	if depth > MaxLintDepth {
		return []Problem{{Path: path, Severity: SeverityError, Message: fmt.Sprintf("nested deeper than %d levels", MaxLintDepth)}}
	}

	obj, ok := node.(map[string]any)
	if !ok {
		return []Problem{{Path: path, Severity: SeverityWarning, Message: "not a JSON object; evaluates as always-true"}}
	}

	if children, present := obj["all"]; present {
		return lintCombinator(children, path+".all", depth, false)
	}
	if children, present := obj["any"]; present {
		return lintCombinator(children, path+".any", depth, true)
	}
	if child, present := obj["not"]; present {
		return lintNode(child, path+".not", depth+1)
	}

	_, hasTrait := obj["trait"]
	_, hasOp := obj["op"]
	if hasTrait || hasOp {
		return lintCond(obj, path)
	}

	if len(obj) > 0 {
		return []Problem{{Path: path, Severity: SeverityWarning, Message: "unrecognized node shape; evaluates as always-true"}}
	}
	// A bare {} is the idiomatic catch-all predicate, not a mistake.
	return nil
}

func lintCombinator(children any, path string, depth int, emptyNeverMatches bool) []Problem {
	elems, ok := children.([]any)
	if !ok {
		msg := "value is not an array; behaves as an empty list"
		return []Problem{{Path: path, Severity: SeverityWarning, Message: msg}}
	}

	var problems []Problem
	if len(elems) == 0 && emptyNeverMatches {
		problems = append(problems, Problem{Path: path, Severity: SeverityWarning, Message: "empty any never matches"})
	}
	for i, elem := range elems {
		problems = append(problems, lintNode(elem, fmt.Sprintf("%s[%d]", path, i), depth+1)...)
	}
	return problems
}

func lintCond(obj map[string]any, path string) []Problem {
	var problems []Problem

	trait, ok := obj["trait"].(string)
	if !ok || trait == "" {
		problems = append(problems, Problem{Path: path + ".trait", Severity: SeverityWarning, Message: "trait key missing or not a string; condition behaves as if the user lacks the trait"})
	}

	op, _ := obj["op"].(string)
	switch op {
	case OpEq, OpNeq:
		if _, isString := obj["value"].(string); !isString {
			var msg string
			if op == OpEq {
				msg = "eq against a non-string value never matches"
			} else {
				msg = "neq against a non-string value always matches"
			}
			problems = append(problems, Problem{Path: path + ".value", Severity: SeverityWarning, Message: msg})
		}
	case OpIn:
		elems, isArray := obj["value"].([]any)
		if !isArray {
			problems = append(problems, Problem{Path: path + ".value", Severity: SeverityWarning, Message: "in requires an array value; condition never matches"})
			break
		}
		if len(elems) == 0 {
			problems = append(problems, Problem{Path: path + ".value", Severity: SeverityWarning, Message: "in against an empty array never matches"})
		}
		for i, elem := range elems {
			if _, isString := elem.(string); !isString {
				problems = append(problems, Problem{Path: fmt.Sprintf("%s.value[%d]", path, i), Severity: SeverityWarning, Message: "non-string member can never match a trait value"})
			}
		}
	default:
		problems = append(problems, Problem{Path: path + ".op", Severity: SeverityWarning, Message: fmt.Sprintf("unknown op %q; condition never matches", op)})
	}

	return problems
}

func lintEffects(raw json.RawMessage) []Problem {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return []Problem{{Path: "effects", Severity: SeverityError, Message: "not valid JSON"}}
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return []Problem{{Path: "effects", Severity: SeverityError, Message: "not valid JSON"}}
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return []Problem{{Path: "effects", Severity: SeverityWarning, Message: "not a JSON object; rule contributes nothing when it matches"}}
	}

	var problems []Problem
	if len(obj) == 0 {
		problems = append(problems, Problem{Path: "effects", Severity: SeverityWarning, Message: "empty effects; rule contributes nothing when it matches"})
	}

	if features, present := obj["enable_features"]; present {
		elems, isArray := features.([]any)
		if !isArray {
			problems = append(problems, Problem{Path: "effects.enable_features", Severity: SeverityWarning, Message: "not an array; ignored"})
		} else {
			for i, elem := range elems {
				if _, isString := elem.(string); !isString {
					problems = append(problems, Problem{Path: fmt.Sprintf("effects.enable_features[%d]", i), Severity: SeverityWarning, Message: "non-string feature; ignored"})
				}
			}
		}
	}
	if layout, present := obj["layout"]; present {
		if _, isString := layout.(string); !isString {
			problems = append(problems, Problem{Path: "effects.layout", Severity: SeverityWarning, Message: "not a string; ignored"})
		}
	}

	return problems
}
