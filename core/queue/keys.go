package queue

import (
	"strconv"

	"github.com/dmitrymomot/jobqueue/pkg/keyspace"
)

// keys is the store key layout of one namespace.
type keys struct {
	ns keyspace.Namer
}

func newKeys(namespace string) keys {
	return keys{ns: keyspace.New(namespace)}
}

func (k keys) id() string                   { return k.ns.Key("id") }
func (k keys) queues() string               { return k.ns.Key("queues") }
func (k keys) queue(name string) string     { return k.ns.Key("queue", name) }
func (k keys) executions() string           { return k.ns.Key("executions") }
func (k keys) workers() string              { return k.ns.Key("workers") }
func (k keys) worker(name string) string    { return k.ns.Key("worker", name) }
func (k keys) processed() string            { return k.ns.Key("stat", "processed") }
func (k keys) failed() string               { return k.ns.Key("stat", "failed") }
func (k keys) processedBy(w string) string  { return k.ns.Key("stat", "processed", w) }
func (k keys) failedBy(w string) string     { return k.ns.Key("stat", "failed", w) }
func (k keys) channel(name string) string   { return k.ns.Key("channel", name) }
func (k keys) inflight(worker, queue string) string {
	return k.ns.Key("inflight", worker, queue)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
