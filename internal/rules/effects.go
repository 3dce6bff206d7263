package rules

import "encoding/json"

// Effects is a rule's decoded effects object. Features come from the
// "enable_features" key in stored order; Layout from the "layout" key, nil
// when the rule sets none. Every unrecognized key passes through Extra
// untouched, so callers can attach domain-specific effects (goal hints, a
// recommended coach persona) without the engine knowing about them.
type Effects struct {
	Features []string
	Layout   *string
	Extra    map[string]json.RawMessage
}

// ParseEffects decodes stored effects JSON. Like ParsePredicate it is total:
// malformed input yields the zero Effects, and a mistyped recognized key
// contributes nothing rather than erroring.
func ParseEffects(raw json.RawMessage) Effects {
	var e Effects
	if len(raw) == 0 {
		return e
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return e
	}

	for key, val := range obj {
		switch key {
		case "enable_features":
			var elems []json.RawMessage
			if err := json.Unmarshal(val, &elems); err != nil {
				continue
			}
			for _, elem := range elems {
				var feature string
				if err := json.Unmarshal(elem, &feature); err == nil {
					e.Features = append(e.Features, feature)
				}
			}
		case "layout":
			var layout string
			if err := json.Unmarshal(val, &layout); err == nil {
				e.Layout = &layout
			}
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[key] = val
		}
	}

	return e
}
