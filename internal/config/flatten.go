package config

import (
	"strings"
)

// Credentials are shown masked by `config list` unless asked otherwise.
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"telegram.token": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested sections into dot keys:
// {"gateway": {"max_polls": 60}} becomes {"gateway.max_polls": 60}.
// Empty sections produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(path []string, node map[string]any)
	walk = func(path []string, node map[string]any) {
		for name, v := range node {
			key := append(path[:len(path):len(path)], name)
			if sub, ok := v.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			out[strings.Join(key, ".")] = v
		}
	}
	walk(nil, m)
	return out
}

// Unflatten is the inverse of Flatten. A dot key whose prefix holds a
// scalar replaces that scalar with a section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		names := strings.Split(key, ".")
		node := out
		for _, name := range names[:len(names)-1] {
			node = section(node, name)
		}
		node[names[len(names)-1]] = v
	}
	return out
}

func section(node map[string]any, name string) map[string]any {
	if sub, ok := node[name].(map[string]any); ok {
		return sub
	}
	sub := make(map[string]any)
	node[name] = sub
	return sub
}

// MaskSecrets copies flat, replacing non-empty secret strings with "***"
// and their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && secretKeys[k] && s != "" {
			out[k] = "***" + s[max(0, len(s)-4):]
		}
	}
	return out
}
