package repository

import (
	"context"
	"errors"

	"github.com/dreamdiary/coin-market/internal/models"
)

// ErrTxConflict is returned by RunInTx when every attempt lost an optimistic
// conflict against a concurrent transaction.
var ErrTxConflict = errors.New("transaction conflict: retries exhausted")

// ErrDuplicate is returned when a record with the same key already exists.
var ErrDuplicate = errors.New("record already exists")

// DefaultMaxAttempts bounds how many times a transaction body is executed.
const DefaultMaxAttempts = 5

// Tx is the transactional view of the store. All reads must happen before
// writes; writes become visible only when the surrounding RunInTx commits.
type Tx interface {
	GetAccount(ctx context.Context, uid string) (*models.Account, error)
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetPurchaseByKey(ctx context.Context, buyerUID, key string) (*models.PurchaseRecord, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	// GrantBonus increments coins and sets signup_bonus_granted on an existing account
	GrantBonus(ctx context.Context, uid string, amount int64) error
	// IncrementCoins adds delta server-side; a missing account is created with delta as its balance
	IncrementCoins(ctx context.Context, uid string, delta int64) error
	MarkListingSold(ctx context.Context, id, buyerUID, purchaseTxID string) error
	// PutLedgerEntry inserts the entry or overwrites one with the same (uid, id)
	PutLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	CreatePurchase(ctx context.Context, record *models.PurchaseRecord) error
	CreateSale(ctx context.Context, record *models.SaleRecord) error
}

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// RunInTx executes fn atomically, re-running it from scratch on conflict.
	// An error returned by fn aborts the transaction and is returned unchanged.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Account operations
	GetAccount(ctx context.Context, uid string) (*models.Account, error)
	EnsureAccount(ctx context.Context, uid string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)

	// Listing operations
	CreateListing(ctx context.Context, listing *models.Listing) error
	GetListing(ctx context.Context, id string) (*models.Listing, error)

	// Ledger and audit records
	ListLedgerEntries(ctx context.Context, uid string) ([]models.LedgerEntry, error)
	SumLedger(ctx context.Context, uid string) (int64, error)
	ListPurchases(ctx context.Context, uid string) ([]models.PurchaseRecord, error)
	ListSales(ctx context.Context, uid string) ([]models.SaleRecord, error)
}
