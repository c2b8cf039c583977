package runner

import (
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// ReviewPolicy decides at the REVIEW node whether a model step needs human
// approval before it is committed.
type ReviewPolicy interface {
	RequiresReview(step core.Message) bool
}

// ReviewPolicyFunc adapts a function to ReviewPolicy.
type ReviewPolicyFunc func(step core.Message) bool

// RequiresReview implements ReviewPolicy.
func (f ReviewPolicyFunc) RequiresReview(step core.Message) bool { return f(step) }

// ReviewAlways suspends after every model step.
var ReviewAlways ReviewPolicy = ReviewPolicyFunc(func(core.Message) bool { return true })

// ReviewNever approves every step.
var ReviewNever ReviewPolicy = ReviewPolicyFunc(func(core.Message) bool { return false })

// ReviewTools suspends only when the step requests one of the named tools.
func ReviewTools(names ...string) ReviewPolicy {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return ReviewPolicyFunc(func(step core.Message) bool {
		for _, c := range step.ToolCalls() {
			if _, ok := set[c.Name]; ok {
				return true
			}
		}
		return false
	})
}

// ParseReviewPolicy maps a configured mode ("tools", "always", "never") to
// a policy. tools lists the reviewed tools for mode "tools".
func ParseReviewPolicy(mode string, tools []string) (ReviewPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "tools":
		return ReviewTools(tools...), nil
	case "always":
		return ReviewAlways, nil
	case "never":
		return ReviewNever, nil
	default:
		return nil, fmt.Errorf("unknown review mode %q", mode)
	}
}
