package service

import (
	"context"
	"log/slog"

	"securevault/internal/server/database"
)

// Drift is a principal whose cached usage disagreed with its file records.
type Drift struct {
	UserID   string
	Cached   int64
	Computed int64
}

// ReconcileLedgers recomputes every principal's usage under its lock and
// returns the principals whose cached value had drifted.
func (s *Service) ReconcileLedgers(ctx context.Context) ([]Drift, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	var drifted []Drift
	for _, listed := range users {
		err := s.store.WithPrincipalLock(ctx, listed.ID, func(q database.Queries) error {
			u, err := q.GetUser(ctx, listed.ID)
			if err != nil {
				return err
			}
			computed, err := s.ledger.Recompute(ctx, q, u.ID)
			if err != nil {
				return err
			}
			if computed != u.ConsumedBytes {
				drifted = append(drifted, Drift{UserID: u.ID, Cached: u.ConsumedBytes, Computed: computed})
				slog.Warn("usage ledger drift corrected",
					"user_id", u.ID,
					"cached", u.ConsumedBytes,
					"computed", computed,
				)
			}
			return nil
		})
		if err != nil {
			return drifted, storageFailure(err)
		}
	}

	slog.Info("ledger reconciliation complete", "users", len(users), "drifted", len(drifted))
	return drifted, nil
}
