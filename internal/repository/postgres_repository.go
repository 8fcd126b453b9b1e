package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
)

// SQLSTATE codes treated as optimistic conflicts
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// ErrAccountNotFound is returned by writes that require an existing account
var ErrAccountNotFound = errors.New("account not found")

// Option configures a repository
type Option func(*settings)

type settings struct {
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func defaultSettings() settings {
	return settings{
		maxAttempts: DefaultMaxAttempts,
		backoff:     20 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxAttempts bounds the number of executions of a transaction body
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between conflicting attempts
func WithBackoff(d time.Duration) Option {
	return func(s *settings) { s.backoff = d }
}

// WithClock replaces the time source (memory repository only; Postgres uses NOW())
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db  *sqlx.DB
	cfg settings
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB, opts ...Option) *PostgresRepository {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PostgresRepository{
		db:  db,
		cfg: cfg,
	}
}

// RunInTx runs fn inside a SERIALIZABLE transaction. Serialization failures
// surface as conflicts and the whole body is executed again.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 1; attempt <= r.cfg.maxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}

		metrics.TxRetries.WithLabelValues("postgres").Inc()
		if attempt == r.cfg.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}
	return ErrTxConflict
}

func (r *PostgresRepository) runOnce(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	if err = fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) delay(attempt int) time.Duration {
	if r.cfg.backoff <= 0 {
		return 0
	}
	base := r.cfg.backoff * time.Duration(attempt)
	return base + time.Duration(rand.Int63n(int64(r.cfg.backoff)))
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected, pqUniqueViolation:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// Account repository methods
func (r *PostgresRepository) GetAccount(ctx context.Context, uid string) (*models.Account, error) {
	return getAccount(ctx, r.db, uid)
}

func (r *PostgresRepository) EnsureAccount(ctx context.Context, uid string) (*models.Account, error) {
	query := `
		INSERT INTO accounts (uid, coins, signup_bonus_granted, created_at, updated_at)
		VALUES ($1, 0, FALSE, NOW(), NOW())
		ON CONFLICT (uid) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, uid); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return getAccount(ctx, r.db, uid)
}

func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.SelectContext(ctx, &accounts, `SELECT * FROM accounts ORDER BY uid`)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Listing repository methods
func (r *PostgresRepository) CreateListing(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO market_items (
			id, diary_id, seller_uid, owner_name, price, status, is_sold, buyer_uid,
			content, summary, interpretation, image_url, "date", created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	now := time.Now().UTC()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = listing.CreatedAt
	if listing.Date.IsZero() {
		listing.Date = listing.CreatedAt
	}

	var status *string
	if listing.Status != nil {
		s := string(*listing.Status)
		status = &s
	}

	_, err := r.db.ExecContext(ctx, query,
		listing.ID, listing.DiaryID, listing.SellerUID, listing.OwnerName, listing.Price,
		status, listing.IsSold, listing.BuyerUID, listing.Content, listing.Summary,
		listing.Interpretation, listing.ImageURL, listing.Date, listing.CreatedAt, listing.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return getListing(ctx, r.db, id)
}

// Ledger and audit record methods
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, uid string) ([]models.LedgerEntry, error) {
	query := `SELECT * FROM coin_ledger WHERE uid = $1 ORDER BY created_at DESC, id`

	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, uid); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *PostgresRepository) SumLedger(ctx context.Context, uid string) (int64, error) {
	var sum int64
	err := r.db.GetContext(ctx, &sum, `SELECT COALESCE(SUM(amount), 0) FROM coin_ledger WHERE uid = $1`, uid)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

func (r *PostgresRepository) ListPurchases(ctx context.Context, uid string) ([]models.PurchaseRecord, error) {
	query := `SELECT * FROM purchases WHERE buyer_uid = $1 ORDER BY purchased_at DESC`

	var records []models.PurchaseRecord
	if err := r.db.SelectContext(ctx, &records, query, uid); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PostgresRepository) ListSales(ctx context.Context, uid string) ([]models.SaleRecord, error) {
	query := `SELECT * FROM sales WHERE seller_uid = $1 ORDER BY sold_at DESC`

	var records []models.SaleRecord
	if err := r.db.SelectContext(ctx, &records, query, uid); err != nil {
		return nil, err
	}
	return records, nil
}

// postgresTx is the Tx view over a serializable sqlx transaction
type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) GetAccount(ctx context.Context, uid string) (*models.Account, error) {
	return getAccount(ctx, t.tx, uid)
}

func (t *postgresTx) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return getListing(ctx, t.tx, id)
}

func (t *postgresTx) GetPurchaseByKey(ctx context.Context, buyerUID, key string) (*models.PurchaseRecord, error) {
	query := `SELECT * FROM purchases WHERE buyer_uid = $1 AND idempotency_key = $2`

	var record models.PurchaseRecord
	err := t.tx.GetContext(ctx, &record, query, buyerUID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (t *postgresTx) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (uid, coins, signup_bonus_granted, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`
	_, err := t.tx.ExecContext(ctx, query, account.UID, account.Coins, account.SignupBonusGranted)
	return err
}

func (t *postgresTx) GrantBonus(ctx context.Context, uid string, amount int64) error {
	query := `
		UPDATE accounts
		SET coins = coins + $2, signup_bonus_granted = TRUE, updated_at = NOW()
		WHERE uid = $1
	`
	res, err := t.tx.ExecContext(ctx, query, uid, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) IncrementCoins(ctx context.Context, uid string, delta int64) error {
	query := `
		INSERT INTO accounts (uid, coins, signup_bonus_granted, created_at, updated_at)
		VALUES ($1, $2, FALSE, NOW(), NOW())
		ON CONFLICT (uid) DO UPDATE
		SET coins = accounts.coins + EXCLUDED.coins, updated_at = NOW()
	`
	_, err := t.tx.ExecContext(ctx, query, uid, delta)
	return err
}

func (t *postgresTx) MarkListingSold(ctx context.Context, id, buyerUID, purchaseTxID string) error {
	query := `
		UPDATE market_items
		SET status = $2, is_sold = TRUE, buyer_uid = $3, sold_at = NOW(),
			updated_at = NOW(), purchase_tx_id = $4
		WHERE id = $1
	`
	_, err := t.tx.ExecContext(ctx, query, id, string(models.StatusSold), buyerUID, purchaseTxID)
	return err
}

func (t *postgresTx) PutLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO coin_ledger (uid, id, amount, type, ref_type, ref_id, counterparty_uid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (uid, id) DO UPDATE
		SET amount = EXCLUDED.amount, type = EXCLUDED.type, ref_type = EXCLUDED.ref_type,
			ref_id = EXCLUDED.ref_id, counterparty_uid = EXCLUDED.counterparty_uid,
			created_at = EXCLUDED.created_at
	`
	_, err := t.tx.ExecContext(ctx, query,
		entry.UID, entry.ID, entry.Amount, string(entry.Type), entry.RefType, entry.RefID, entry.CounterpartyUID)
	return err
}

func (t *postgresTx) CreatePurchase(ctx context.Context, record *models.PurchaseRecord) error {
	query := `
		INSERT INTO purchases (buyer_uid, purchase_tx_id, item_id, diary_id, seller_uid, price, idempotency_key, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := t.tx.ExecContext(ctx, query,
		record.BuyerUID, record.PurchaseTxID, record.ItemID, record.DiaryID,
		record.SellerUID, record.Price, record.IdempotencyKey)
	return err
}

func (t *postgresTx) CreateSale(ctx context.Context, record *models.SaleRecord) error {
	query := `
		INSERT INTO sales (seller_uid, purchase_tx_id, item_id, diary_id, buyer_uid, price, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := t.tx.ExecContext(ctx, query,
		record.SellerUID, record.PurchaseTxID, record.ItemID, record.DiaryID, record.BuyerUID, record.Price)
	return err
}

// shared readers, usable on both *sqlx.DB and *sqlx.Tx
func getAccount(ctx context.Context, q sqlx.QueryerContext, uid string) (*models.Account, error) {
	var account models.Account
	err := sqlx.GetContext(ctx, q, &account, `SELECT * FROM accounts WHERE uid = $1`, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Account not found
		}
		return nil, err
	}
	return &account, nil
}

func getListing(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Listing, error) {
	var listing models.Listing
	err := sqlx.GetContext(ctx, q, &listing, `SELECT * FROM market_items WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Listing not found
		}
		return nil, err
	}
	return &listing, nil
}
