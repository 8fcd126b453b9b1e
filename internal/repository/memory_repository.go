package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
)

var (
	errMemoryConflict  = errors.New("memory store: read set changed before commit")
	errReadAfterWrite  = errors.New("memory store: transaction reads must precede writes")
	errNegativeBalance = errors.New("memory store: coins would become negative")
)

// MemoryRepository is an in-memory Repository used for tests and local runs.
//
// Transactions are optimistic: every read records the version of the document
// it saw, writes are buffered, and commit validates the read set under the
// write lock before applying the buffered writes. A changed read set makes
// RunInTx run the body again against fresh state.
type MemoryRepository struct {
	mu  sync.RWMutex
	cfg settings

	versions     map[string]uint64
	accounts     map[string]models.Account
	listings     map[string]models.Listing
	ledger       map[string]map[string]models.LedgerEntry
	purchases    map[string]map[string]models.PurchaseRecord
	purchaseKeys map[string]string
	sales        map[string]map[string]models.SaleRecord
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(opts ...Option) *MemoryRepository {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryRepository{
		cfg:          cfg,
		versions:     make(map[string]uint64),
		accounts:     make(map[string]models.Account),
		listings:     make(map[string]models.Listing),
		ledger:       make(map[string]map[string]models.LedgerEntry),
		purchases:    make(map[string]map[string]models.PurchaseRecord),
		purchaseKeys: make(map[string]string),
		sales:        make(map[string]map[string]models.SaleRecord),
	}
}

func accountKey(uid string) string         { return "accounts/" + uid }
func listingKey(id string) string          { return "market_items/" + id }
func purchaseKey(buyer, key string) string { return "purchase_keys/" + buyer + "/" + key }

// RunInTx executes fn with compare-and-swap commit semantics
func (m *MemoryRepository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 1; attempt <= m.cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memoryTx{repo: m, reads: make(map[string]uint64)}
		if err := fn(tx); err != nil {
			return err
		}

		err := m.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errMemoryConflict) {
			return err
		}
		metrics.TxRetries.WithLabelValues("memory").Inc()
	}
	return ErrTxConflict
}

func (m *MemoryRepository) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, seen := range tx.reads {
		if m.versions[key] != seen {
			return errMemoryConflict
		}
	}

	now := m.cfg.now()
	var undo []func()
	for _, op := range tx.ops {
		if err := op(now, &undo); err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
			return err
		}
	}
	return nil
}

// bump increments a document version, recording how to restore it
func (m *MemoryRepository) bump(key string, undo *[]func()) {
	prev, had := m.versions[key]
	*undo = append(*undo, func() {
		if had {
			m.versions[key] = prev
		} else {
			delete(m.versions, key)
		}
	})
	m.versions[key] = prev + 1
}

func (m *MemoryRepository) putAccount(a models.Account, undo *[]func()) {
	prev, had := m.accounts[a.UID]
	*undo = append(*undo, func() {
		if had {
			m.accounts[a.UID] = prev
		} else {
			delete(m.accounts, a.UID)
		}
	})
	m.accounts[a.UID] = a
	m.bump(accountKey(a.UID), undo)
}

func (m *MemoryRepository) putListing(l models.Listing, undo *[]func()) {
	prev, had := m.listings[l.ID]
	*undo = append(*undo, func() {
		if had {
			m.listings[l.ID] = prev
		} else {
			delete(m.listings, l.ID)
		}
	})
	m.listings[l.ID] = l
	m.bump(listingKey(l.ID), undo)
}

func (m *MemoryRepository) putLedgerEntry(e models.LedgerEntry, undo *[]func()) {
	entries, ok := m.ledger[e.UID]
	if !ok {
		entries = make(map[string]models.LedgerEntry)
		m.ledger[e.UID] = entries
	}
	prev, had := entries[e.ID]
	*undo = append(*undo, func() {
		if had {
			entries[e.ID] = prev
		} else {
			delete(entries, e.ID)
		}
	})
	entries[e.ID] = e
}

// Account repository methods
func (m *MemoryRepository) GetAccount(_ context.Context, uid string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[uid]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryRepository) EnsureAccount(_ context.Context, uid string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[uid]
	if !ok {
		now := m.cfg.now()
		a = models.Account{UID: uid, CreatedAt: now, UpdatedAt: now}
		var undo []func()
		m.putAccount(a, &undo)
	}
	return &a, nil
}

func (m *MemoryRepository) ListAccounts(_ context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].UID < accounts[j].UID })
	return accounts, nil
}

// Listing repository methods
func (m *MemoryRepository) CreateListing(_ context.Context, listing *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listings[listing.ID]; exists {
		return ErrDuplicate
	}

	now := m.cfg.now()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = listing.CreatedAt
	if listing.Date.IsZero() {
		listing.Date = listing.CreatedAt
	}

	var undo []func()
	m.putListing(*listing, &undo)
	return nil
}

func (m *MemoryRepository) GetListing(_ context.Context, id string) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// PutRawListing stores a listing exactly as given, bypassing creation defaults.
// Used to seed rows in the shape older app versions wrote them.
func (m *MemoryRepository) PutRawListing(listing models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var undo []func()
	m.putListing(listing, &undo)
}

// Ledger and audit record methods
func (m *MemoryRepository) ListLedgerEntries(_ context.Context, uid string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]models.LedgerEntry, 0, len(m.ledger[uid]))
	for _, e := range m.ledger[uid] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *MemoryRepository) SumLedger(_ context.Context, uid string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.ledger[uid] {
		sum += e.Amount
	}
	return sum, nil
}

func (m *MemoryRepository) ListPurchases(_ context.Context, uid string) ([]models.PurchaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]models.PurchaseRecord, 0, len(m.purchases[uid]))
	for _, r := range m.purchases[uid] {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PurchasedAt.After(records[j].PurchasedAt) })
	return records, nil
}

func (m *MemoryRepository) ListSales(_ context.Context, uid string) ([]models.SaleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]models.SaleRecord, 0, len(m.sales[uid]))
	for _, r := range m.sales[uid] {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SoldAt.After(records[j].SoldAt) })
	return records, nil
}

// memoryTx buffers writes until commit
type memoryTx struct {
	repo  *MemoryRepository
	reads map[string]uint64
	ops   []func(now time.Time, undo *[]func()) error
}

func (t *memoryTx) observe(key string) error {
	if len(t.ops) > 0 {
		return errReadAfterWrite
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.repo.versions[key]
	}
	return nil
}

func (t *memoryTx) GetAccount(_ context.Context, uid string) (*models.Account, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()

	if err := t.observe(accountKey(uid)); err != nil {
		return nil, err
	}
	a, ok := t.repo.accounts[uid]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *memoryTx) GetListing(_ context.Context, id string) (*models.Listing, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()

	if err := t.observe(listingKey(id)); err != nil {
		return nil, err
	}
	l, ok := t.repo.listings[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (t *memoryTx) GetPurchaseByKey(_ context.Context, buyerUID, key string) (*models.PurchaseRecord, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()

	if err := t.observe(purchaseKey(buyerUID, key)); err != nil {
		return nil, err
	}
	txID, ok := t.repo.purchaseKeys[buyerUID+"/"+key]
	if !ok {
		return nil, nil
	}
	r := t.repo.purchases[buyerUID][txID]
	return &r, nil
}

func (t *memoryTx) CreateAccount(_ context.Context, account *models.Account) error {
	a := *account
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		if _, exists := t.repo.accounts[a.UID]; exists {
			return errMemoryConflict
		}
		a.CreatedAt, a.UpdatedAt = now, now
		t.repo.putAccount(a, undo)
		return nil
	})
	return nil
}

func (t *memoryTx) GrantBonus(_ context.Context, uid string, amount int64) error {
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		a, ok := t.repo.accounts[uid]
		if !ok {
			return ErrAccountNotFound
		}
		a.Coins += amount
		a.SignupBonusGranted = true
		a.UpdatedAt = now
		t.repo.putAccount(a, undo)
		return nil
	})
	return nil
}

func (t *memoryTx) IncrementCoins(_ context.Context, uid string, delta int64) error {
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		a, ok := t.repo.accounts[uid]
		if !ok {
			a = models.Account{UID: uid, CreatedAt: now}
		}
		if a.Coins+delta < 0 {
			return errNegativeBalance
		}
		a.Coins += delta
		a.UpdatedAt = now
		t.repo.putAccount(a, undo)
		return nil
	})
	return nil
}

func (t *memoryTx) MarkListingSold(_ context.Context, id, buyerUID, purchaseTxID string) error {
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		l, ok := t.repo.listings[id]
		if !ok {
			return errors.New("memory store: listing not found")
		}
		status := models.StatusSold
		buyer, txID, soldAt := buyerUID, purchaseTxID, now
		l.Status = &status
		l.IsSold = true
		l.BuyerUID = &buyer
		l.PurchaseTxID = &txID
		l.SoldAt = &soldAt
		l.UpdatedAt = now
		t.repo.putListing(l, undo)
		return nil
	})
	return nil
}

func (t *memoryTx) PutLedgerEntry(_ context.Context, entry *models.LedgerEntry) error {
	e := *entry
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		e.CreatedAt = now
		t.repo.putLedgerEntry(e, undo)
		return nil
	})
	return nil
}

func (t *memoryTx) CreatePurchase(_ context.Context, record *models.PurchaseRecord) error {
	r := *record
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		records, ok := t.repo.purchases[r.BuyerUID]
		if !ok {
			records = make(map[string]models.PurchaseRecord)
			t.repo.purchases[r.BuyerUID] = records
		}
		if _, exists := records[r.PurchaseTxID]; exists {
			return ErrDuplicate
		}
		r.PurchasedAt = now
		records[r.PurchaseTxID] = r
		*undo = append(*undo, func() { delete(records, r.PurchaseTxID) })

		if r.IdempotencyKey != nil {
			idx := r.BuyerUID + "/" + *r.IdempotencyKey
			if _, taken := t.repo.purchaseKeys[idx]; taken {
				return errMemoryConflict
			}
			t.repo.purchaseKeys[idx] = r.PurchaseTxID
			*undo = append(*undo, func() { delete(t.repo.purchaseKeys, idx) })
			t.repo.bump(purchaseKey(r.BuyerUID, *r.IdempotencyKey), undo)
		}
		return nil
	})
	return nil
}

func (t *memoryTx) CreateSale(_ context.Context, record *models.SaleRecord) error {
	r := *record
	t.ops = append(t.ops, func(now time.Time, undo *[]func()) error {
		records, ok := t.repo.sales[r.SellerUID]
		if !ok {
			records = make(map[string]models.SaleRecord)
			t.repo.sales[r.SellerUID] = records
		}
		if _, exists := records[r.PurchaseTxID]; exists {
			return ErrDuplicate
		}
		r.SoldAt = now
		records[r.PurchaseTxID] = r
		*undo = append(*undo, func() { delete(records, r.PurchaseTxID) })
		return nil
	})
	return nil
}
