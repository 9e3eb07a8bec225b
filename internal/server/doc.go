// Package server hosts the Fiber HTTP service that exposes the download cache
// read-only to other local tools, plus drop and listing diagnostics under /-/.
// Every cache access goes through the same fetch.Token the workers use, so a
// running server never observes a half-committed entry.
package server
