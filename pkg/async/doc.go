// Package async provides panic-safe goroutine helpers and a bounded
// worker pool for fan-out work.
package async
