// Package cache implements the content-addressed download cache: a SQLite
// index mapping URLs to entry metadata, and a blob store that keeps each body
// under <root>/<host+path>/<sha256-hex>. The Manager composes both behind
// Get/Put/Drop and evicts stale or inconsistent entries lazily, when they are
// looked up. Manager is not safe for concurrent mutation; callers serialize
// access (see the fetch package's Token).
package cache
