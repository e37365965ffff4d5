// Package dblock serialises test binaries that share one Postgres database.
// go test runs packages in parallel, and the repository suites truncate
// tables between cases.
package dblock

import (
	"net"
	"os"
	"time"
)

const (
	lockAddr = "127.0.0.1:45433"
	// a crashed holder frees the port with its process
	maxWait = 2 * time.Minute
)

// Acquire blocks until this process holds the lock and returns its release
// func. Without DATABASE_URL the database suites skip, so there is nothing
// to serialise and Acquire returns immediately.
func Acquire() func() {
	if os.Getenv("DATABASE_URL") == "" {
		return func() {}
	}
	deadline := time.Now().Add(maxWait)
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		if time.Now().After(deadline) {
			return func() {}
		}
		time.Sleep(50 * time.Millisecond)
	}
}
