// Package fetch runs a batch of download jobs through a fixed-size worker
// pool. Workers pull jobs from a shared Queue, fetch them over HTTP in
// parallel and commit successful bodies into the cache while holding the
// single Token that owns the cache.Manager, so cache writes never interleave.
package fetch
