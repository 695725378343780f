package resources

// NameOf returns the stable identity of a raw resource: the top-level name
// field when set, otherwise metadata.name. An empty result means the resource
// cannot be matched by identity.
func NameOf(obj map[string]interface{}) string {
	if obj == nil {
		return ""
	}
	if n, ok := obj["name"].(string); ok && n != "" {
		return n
	}
	md, ok := obj["metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	n, _ := md["name"].(string)
	return n
}
