// Package credstore adapts secure key/value backends to a single
// capability interface keyed by (service, account).
package credstore

import "context"

// Backend stores opaque string values under (service, key).
type Backend interface {
	// Set stores or replaces a value.
	Set(ctx context.Context, service, key, value string) error
	// Get returns the value and true, or false when nothing is stored.
	Get(ctx context.Context, service, key string) (string, bool, error)
	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, service, key string) error
}

// BatchSetter is implemented by backends that can write several keys of one
// service as a single atomic unit.
type BatchSetter interface {
	SetMany(ctx context.Context, service string, values map[string]string) error
}
