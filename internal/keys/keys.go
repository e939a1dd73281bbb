package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.

// Tasks is the HASH holding encoded tasks keyed by task id.
func Tasks(ns string) string { return "taskq:{" + ns + "}:tasks" }

// Order is a ZSET of task ids scored by insertion sequence, used to restore FIFO order.
func Order(ns string) string { return "taskq:{" + ns + "}:order" }

// Seq is the counter that hands out insertion sequence numbers.
func Seq(ns string) string { return "taskq:{" + ns + "}:seq" }

// Store holds all precomputed keys for a storage namespace to avoid repeated concatenations.
type Store struct {
	Tasks string
	Order string
	Seq   string
}

// For returns a set of precomputed keys for the provided namespace.
func For(ns string) Store {
	prefix := "taskq:{" + ns + "}:"
	return Store{
		Tasks: prefix + "tasks",
		Order: prefix + "order",
		Seq:   prefix + "seq",
	}
}

// All returns every key of the namespace, for TTL refresh and deletion.
func (s Store) All() []string { return []string{s.Tasks, s.Order, s.Seq} }
