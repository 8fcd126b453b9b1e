package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/repository"
)

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice")
	f.fund(t, "bob")

	discrepancies, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)

	// a balance change without a ledger entry
	require.NoError(t, f.repo.RunInTx(ctx, func(tx repository.Tx) error {
		return tx.IncrementCoins(ctx, "bob", 5)
	}))

	discrepancies, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Discrepancy{{UID: "bob", Coins: 1005, LedgerSum: 1000}}, discrepancies)

	// reporting never corrects
	assert.Equal(t, int64(1005), f.coins(t, "bob"))
}
