// Package secret stores credentials encrypted at rest and resolves them into
// node configs at execution time. Plaintext values only ever exist in
// function-local scope: they are merged into a cloned config by the executor
// and must never reach an audit payload.
package secret

import "context"

// Resolver resolves a secret reference (name or id) to the key/value pairs
// merged into a node's config.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (map[string]interface{}, error)
}

// NopResolver returns an empty map for every ref. It is the default when no
// configuration database is wired, and keeps tests free of DB plumbing.
type NopResolver struct{}

func (NopResolver) Resolve(context.Context, string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
