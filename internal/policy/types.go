package policy

import "time"

// Action is what a rule asks the pipeline to do with matching tags.
type Action string

const (
	ActionPreserve        Action = "preserve"
	ActionRedact          Action = "redact"
	ActionMaskValue       Action = "mask_value"
	ActionShuffleSiblings Action = "shuffle_siblings"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionPreserve, ActionRedact, ActionMaskValue, ActionShuffleSiblings:
		return true
	}
	return false
}

// DefaultVersion is written into generated policies.
const DefaultVersion = "1.0"

// ParamChildTag names the repeated child of a shuffle_siblings rule.
const ParamChildTag = "child_tag"

// Rule binds a tag pattern to an action.
type Rule struct {
	TagPattern string         `json:"tag_pattern"`
	Action     Action         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ChildTag returns the child_tag parameter of a shuffle rule, if any.
func (r Rule) ChildTag() string {
	v, _ := r.Parameters[ParamChildTag].(string)
	return v
}

// Policy is the ordered rule set governing one document family. It is
// treated as read-only once created.
type Policy struct {
	Version       string     `json:"version"`
	GlobalMasking bool       `json:"global_masking"`
	Rules         []Rule     `json:"rules"`
	CreatedAt     *time.Time `json:"created_at"`
}

// RulesFor returns the rules carrying action, in policy order.
func (p *Policy) RulesFor(action Action) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// HasAction reports whether any rule carries action.
func (p *Policy) HasAction(action Action) bool {
	for _, r := range p.Rules {
		if r.Action == action {
			return true
		}
	}
	return false
}

// ShuffleParents returns the set of parent tags named by shuffle_siblings
// rules. The child_tag parameter is not consulted.
func (p *Policy) ShuffleParents() map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range p.Rules {
		if r.Action == ActionShuffleSiblings {
			out[r.TagPattern] = struct{}{}
		}
	}
	return out
}
