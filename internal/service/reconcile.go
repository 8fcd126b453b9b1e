package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
)

// Reconcile compares every account balance with the sum of its ledger and
// returns the accounts where the two disagree. It only reports; nothing is
// corrected.
func (s *DefaultService) Reconcile(ctx context.Context) ([]models.Discrepancy, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var out []models.Discrepancy
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := s.repo.SumLedger(ctx, a.UID)
		if err != nil {
			return nil, fmt.Errorf("sum ledger for %s: %w", a.UID, err)
		}
		if sum == a.Coins {
			continue
		}
		out = append(out, models.Discrepancy{UID: a.UID, Coins: a.Coins, LedgerSum: sum})
		s.log.WithFields(logrus.Fields{
			"uid":       a.UID,
			"coins":     a.Coins,
			"ledgerSum": sum,
		}).Warn("Ledger discrepancy")
	}

	metrics.LedgerDiscrepancies.Set(float64(len(out)))
	s.log.WithFields(logrus.Fields{
		"accounts":      len(accounts),
		"discrepancies": len(out),
	}).Info("Reconciliation finished")
	return out, nil
}
