// Package provider defines the config source abstraction: sources that
// load raw configuration bytes and signal when the source changes.
package provider

import "context"

// Provider abstracts a config source. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch starts watching for changes; the returned channel receives
	// a value when the source changes and closes when watching stops.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases resources held by the provider.
	Close() error
}
