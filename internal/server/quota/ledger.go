package quota

import (
	"context"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"securevault/internal/server/database"
)

// LedgerQueries is what the ledger needs from the relational store. Pass the
// Queries of a principal-locked section to make check and recompute atomic.
type LedgerQueries interface {
	Memberships
	SumFileSizes(ctx context.Context, ownerID string) (int64, error)
	SetUserConsumed(ctx context.Context, id string, consumed int64) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	Used     int64
	Limit    Resolution
	Incoming int64
	Allowed  bool
}

// Report is a principal's storage usage summary.
type Report struct {
	Used           int64   `json:"used"`
	Limit          int64   `json:"limit"`
	Percentage     float64 `json:"percentage"`
	FormattedUsed  string  `json:"formatted_used"`
	FormattedLimit string  `json:"formatted_limit"`
	Tier           Tier    `json:"tier"`
	GroupID        string  `json:"group_id,omitempty"`
}

// Ledger owns consumed_bytes. Recompute is its only writer.
type Ledger struct {
	resolver *Resolver
}

// NewLedger creates a new Ledger.
func NewLedger(resolver *Resolver) *Ledger {
	return &Ledger{resolver: resolver}
}

// Pinned returns a ledger whose system default is read now rather than on
// each check. Use it before entering a principal-locked section.
func (l *Ledger) Pinned(ctx context.Context) (*Ledger, error) {
	res, err := l.resolver.Pinned(ctx)
	if err != nil {
		return nil, err
	}
	return NewLedger(res), nil
}

// CurrentUsage returns the cached aggregate.
func (l *Ledger) CurrentUsage(u *database.User) int64 {
	return u.ConsumedBytes
}

// CanAdmit reports whether used + incoming <= limit. The boundary is
// inclusive and the sum is never computed, so it cannot overflow.
func (l *Ledger) CanAdmit(ctx context.Context, q LedgerQueries, u *database.User, incoming int64) (Decision, error) {
	res, err := l.resolver.EffectiveLimit(ctx, q, u)
	if err != nil {
		return Decision{}, err
	}

	used := l.CurrentUsage(u)
	return Decision{
		Used:     used,
		Limit:    res,
		Incoming: incoming,
		Allowed:  fits(used, incoming, res.Bytes),
	}, nil
}

func fits(used, incoming, limit int64) bool {
	if incoming < 0 || used < 0 || used > limit {
		return false
	}
	return incoming <= limit-used
}

// Recompute sets consumed_bytes to the sum of the principal's live file
// sizes and returns it.
func (l *Ledger) Recompute(ctx context.Context, q LedgerQueries, userID string) (int64, error) {
	total, err := q.SumFileSizes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage for %s: %w", userID, err)
	}
	if err := q.SetUserConsumed(ctx, userID, total); err != nil {
		return 0, fmt.Errorf("failed to store usage for %s: %w", userID, err)
	}
	return total, nil
}

// Report summarizes u's usage against its effective limit.
func (l *Ledger) Report(ctx context.Context, q Memberships, u *database.User) (Report, error) {
	res, err := l.resolver.EffectiveLimit(ctx, q, u)
	if err != nil {
		return Report{}, err
	}

	used := l.CurrentUsage(u)
	return Report{
		Used:           used,
		Limit:          res.Bytes,
		Percentage:     percentage(used, res.Bytes),
		FormattedUsed:  formatBytes(used),
		FormattedLimit: formatBytes(res.Bytes),
		Tier:           res.Tier,
		GroupID:        res.GroupID,
	}, nil
}

func percentage(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(limit)*100*100) / 100
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
