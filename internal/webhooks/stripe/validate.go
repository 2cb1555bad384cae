package stripewebhook

import (
	"fmt"
	"strings"
)

// ValidateWebhookData walks each required field path (dot notation for
// nested lookup, e.g. "metadata.order_id") and returns a message naming the
// first missing field and the context, or "" when all are present. It runs
// before any handler execution so malformed events never reach retry logic.
func ValidateWebhookData(data map[string]any, requiredFields []string, context string) string {
	if data == nil {
		return fmt.Sprintf("missing event payload in %s", context)
	}

	for _, field := range requiredFields {
		if !hasFieldPath(data, field) {
			return fmt.Sprintf("missing required field %q in %s", field, context)
		}
	}
	return ""
}

func hasFieldPath(data map[string]any, path string) bool {
	current := any(data)
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return false
		}
		value, present := node[segment]
		if !present || value == nil {
			return false
		}
		if str, isString := value.(string); isString && str == "" {
			return false
		}
		current = value
	}
	return true
}
