package cache

import (
	"fmt"
	"strings"
)

// Key joins parts with ':' to build a namespaced key.
func Key(parts ...interface{}) string {
	s := make([]string, 0, len(parts))
	for _, p := range parts {
		s = append(s, fmt.Sprint(p))
	}
	return strings.Join(s, ":")
}
