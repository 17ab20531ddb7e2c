package storage

import "errors"

// ErrNotFound is returned when a key or namespace does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface shared by all actors. Each actor owns
// a private namespace and reads or writes JSON-encoded values under string
// keys within it. Writes touching several keys of one namespace go through
// PutBatch so the actor's durable state changes atomically.
type Store interface {
	// Get unmarshals the value stored under namespace/key into out.
	// Returns ErrNotFound when the key or namespace is absent.
	Get(namespace, key string, out interface{}) error

	// Put stores a single JSON-encoded value under namespace/key.
	Put(namespace, key string, value interface{}) error

	// PutBatch stores every entry of values inside one transaction.
	PutBatch(namespace string, values map[string]interface{}) error

	// Delete removes the given keys. Absent keys are ignored.
	Delete(namespace string, keys ...string) error

	// DeleteNamespace removes a namespace and everything in it.
	DeleteNamespace(namespace string) error

	// List returns the raw values of every key starting with prefix.
	// An empty prefix lists the whole namespace.
	List(namespace, prefix string) (map[string][]byte, error)

	// Namespaces returns every namespace starting with prefix.
	Namespaces(prefix string) ([]string, error)

	// Close releases the underlying database.
	Close() error
}
