package streambus

import (
	"context"
	"strings"
	"time"
)

const maxAttempts = 3

// withRetry runs op up to maxAttempts times, backing off 100ms, 200ms
// between attempts. Only transient connection-level failures retry;
// command errors surface immediately.
func (b *Bus) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
	}
	return err
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"io timeout",
	"connection closed",
	"eof",
	"no route to host",
	"network is unreachable",
	// Failover states resolve once the node recovers.
	"clusterdown",
	"loading",
	"readonly",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// Cluster redirections carry the target slot after the verb.
	if strings.HasPrefix(msg, "moved ") || strings.HasPrefix(msg, "ask ") {
		return true
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
