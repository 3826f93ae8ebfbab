// Package keyspace builds namespaced store keys.
//
// Every key is the namespace followed by one or more segments, joined with a colon:
//
//	ns := keyspace.New("jobs")
//	ns.Key("queue", "emails") // "jobs:queue:emails"
//
// A Namer is an immutable value and is safe for concurrent use.
package keyspace

import "strings"

// Separator joins the namespace and key segments.
const Separator = ":"

// Namer constructs keys under a fixed namespace prefix.
type Namer struct {
	namespace string
}

// New returns a Namer for the given namespace.
// Leading and trailing separators are trimmed so that "jobs:" and "jobs" produce the same keys.
func New(namespace string) Namer {
	return Namer{namespace: strings.Trim(namespace, Separator)}
}

// Namespace returns the namespace prefix.
func (n Namer) Namespace() string {
	return n.namespace
}

// Key joins the namespace and segments. Empty segments are kept so that
// positional layouts stay unambiguous.
func (n Namer) Key(segments ...string) string {
	if n.namespace == "" {
		return strings.Join(segments, Separator)
	}

	var b strings.Builder
	size := len(n.namespace)
	for _, s := range segments {
		size += len(Separator) + len(s)
	}
	b.Grow(size)

	b.WriteString(n.namespace)
	for _, s := range segments {
		b.WriteString(Separator)
		b.WriteString(s)
	}

	return b.String()
}
