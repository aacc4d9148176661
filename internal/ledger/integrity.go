package ledger

import (
	"context"

	"github.com/google/uuid"
)

// IntegrityReport summarises a consistency sweep over the whole ledger.
type IntegrityReport struct {
	Accounts       int
	Discrepancies  []BalanceCheck
	BrokenPairings []uuid.UUID
}

// OK reports whether the sweep found nothing wrong.
func (r IntegrityReport) OK() bool {
	return len(r.Discrepancies) == 0 && len(r.BrokenPairings) == 0
}

// CheckIntegrity verifies that every stored balance equals the sum of its signed transactions
// and that every pairing id forms exactly one transfer pair.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	checks, err := s.store.AuditBalances(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{Accounts: len(checks)}
	for _, c := range checks {
		if !c.Stored.Equal(c.Computed) {
			report.Discrepancies = append(report.Discrepancies, c)
		}
	}
	broken, err := s.store.BrokenPairings(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.BrokenPairings = broken
	return report, nil
}
