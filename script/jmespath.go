package script

import (
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// evaluateJMESPath evaluates a JMESPath expression against ctx.Projection()
// and coerces the result to bool, so script authors can write guard
// conditions declaratively in the script document (e.g.
// "request.text == 'hi'") instead of only as compiled Go callables.
func evaluateJMESPath(expr string, ctx ConditionContext) (bool, error) {
	result, err := jmespath.Search(expr, ctx.Projection())
	if err != nil {
		return false, fmt.Errorf("jmespath condition %q: %w", expr, err)
	}
	return truthy(result), nil
}

// truthy mirrors common scripting-language coercion rules: nil, false,
// zero numbers, empty strings, and empty collections are false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
