package queue

import (
	"fmt"
	"strings"
)

// qualifiedStructName extracts the type name from any value, removing pointer prefixes.
// Used to generate job types from payload types (e.g., "queue.PauseWorkers" from PauseWorkers{}).
func qualifiedStructName(v any) string {
	s := fmt.Sprintf("%T", v)
	s = strings.TrimLeft(s, "*")

	return s
}
