// File: internal/snapshot/routes.go
package snapshot

// CountRoutes walks an API explorer document and counts route descriptors.
// Every node whose "method" is a non-empty string other than the grouping
// sentinel "PARENT" counts as one route; child nodes under "routes" are
// counted recursively. The root may be a bare array of nodes or an object
// wrapping a "routes" array.
func CountRoutes(doc interface{}) int64 {
	switch v := doc.(type) {
	case []interface{}:
		var total int64
		for _, item := range v {
			if node, ok := item.(map[string]interface{}); ok {
				total += countNode(node)
			}
		}
		return total
	case map[string]interface{}:
		return countNode(v)
	default:
		return 0
	}
}

func countNode(node map[string]interface{}) int64 {
	var total int64

	if method, ok := node["method"].(string); ok && method != "" && method != "PARENT" {
		total = 1
	}

	if children, ok := node["routes"].([]interface{}); ok {
		for _, child := range children {
			if childNode, ok := child.(map[string]interface{}); ok {
				total += countNode(childNode)
			}
		}
	}

	return total
}
