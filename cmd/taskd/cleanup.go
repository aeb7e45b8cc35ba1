// ABOUTME: Background cleanup of expired idempotency keys.
// ABOUTME: Keys only need to outlive a client's retry window.

package main

import (
	"context"
	"time"
)

// idempotencyTTL bounds how long a create can be replayed.
const idempotencyTTL = 7 * 24 * time.Hour

// cleanupExpired deletes idempotency keys older than ttl and returns the count.
func (s *Server) cleanupExpired(ctx context.Context, ttl time.Duration) int64 {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM idempotency WHERE created_at < ?`, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("cleanup idempotency keys")
		return 0
	}
	n, _ := res.RowsAffected()
	return n
}

// startCleanupRoutine runs cleanup every hour until ctx is done.
func (s *Server) startCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.cleanupExpired(ctx, idempotencyTTL); n > 0 {
					s.log.WithField("keys", n).Info("cleanup: purged idempotency keys")
				}
			}
		}
	}()
}
