package store

import (
	"context"
	"fmt"
)

// NextOrderSequence allocates the next per-day order sequence number,
// starting at 1. Run inside the order's transaction so a rolled-back order
// does not consume a number.
func NextOrderSequence(ctx context.Context, q DBTX, day string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO order_counters (day, seq) VALUES (?, 1)
		 ON CONFLICT (day) DO UPDATE SET seq = seq + 1
		 RETURNING seq`,
		day,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocating order sequence: %w", err)
	}
	return seq, nil
}
