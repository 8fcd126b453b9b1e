package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/events"
	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/repository"
)

// GrantSignupBonus credits the signup bonus to uid exactly once. The account is
// created if missing. granted is false when the bonus had already been paid.
func (s *DefaultService) GrantSignupBonus(ctx context.Context, uid string) (bool, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return false, ErrUIDRequired
	}
	log := s.log.WithField("uid", uid)

	var granted bool
	err := s.repo.RunInTx(ctx, func(tx repository.Tx) error {
		granted = false

		account, err := tx.GetAccount(ctx, uid)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if account != nil && account.SignupBonusGranted {
			return nil
		}

		if account == nil {
			err = tx.CreateAccount(ctx, &models.Account{
				UID:                uid,
				Coins:              s.signupBonus,
				SignupBonusGranted: true,
			})
		} else {
			err = tx.GrantBonus(ctx, uid, s.signupBonus)
		}
		if err != nil {
			return fmt.Errorf("credit bonus: %w", err)
		}

		if err := tx.PutLedgerEntry(ctx, &models.LedgerEntry{
			UID:     uid,
			ID:      models.SignupBonusEntryID,
			Amount:  s.signupBonus,
			Type:    models.LedgerSignupBonus,
			RefType: models.RefTypeSystem,
			RefID:   models.SignupBonusEntryID,
		}); err != nil {
			return fmt.Errorf("write bonus ledger: %w", err)
		}
		granted = true
		return nil
	})
	if err != nil {
		metrics.SignupBonuses.WithLabelValues("error").Inc()
		log.WithError(err).Error("Signup bonus failed")
		return false, err
	}

	if !granted {
		metrics.SignupBonuses.WithLabelValues("skipped").Inc()
		log.Debug("Signup bonus already granted")
		return false, nil
	}
	metrics.SignupBonuses.WithLabelValues("granted").Inc()
	log.WithFields(logrus.Fields{"amount": s.signupBonus}).Info("Signup bonus granted")
	return true, nil
}

var _ events.Handler = (*DefaultService)(nil)

// HandleAccountCreated grants the signup bonus for an account-created event.
// Client errors are swallowed so the event is acknowledged instead of redelivered.
func (s *DefaultService) HandleAccountCreated(ctx context.Context, ev events.AccountCreated) error {
	_, err := s.GrantSignupBonus(ctx, ev.UID)
	if err != nil && IsClientError(err) {
		s.log.WithError(err).WithField("eventId", ev.ID).Warn("Dropping account-created event")
		return nil
	}
	return err
}
