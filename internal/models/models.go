package models

import (
	"time"
)

// ListingStatus is the lifecycle state of a market item
type ListingStatus string

const (
	StatusListed    ListingStatus = "listed"
	StatusSold      ListingStatus = "sold"
	StatusCancelled ListingStatus = "cancelled"
)

// LedgerType is the business reason for a coin movement
type LedgerType string

const (
	LedgerSignupBonus   LedgerType = "signup_bonus"
	LedgerPurchaseSpend LedgerType = "purchase_spend"
	LedgerSaleEarn      LedgerType = "sale_earn"
)

// Reference types recorded on ledger entries
const (
	RefTypeSystem     = "system"
	RefTypeMarketItem = "market_item"
)

// SignupBonusEntryID is the fixed ledger entry id of the signup bonus.
// Duplicate deliveries overwrite the same entry instead of adding a new one.
const SignupBonusEntryID = "signup_bonus"

// Account holds a user's coin balance
type Account struct {
	UID                string    `db:"uid" json:"uid"`
	Coins              int64     `db:"coins" json:"coins"`
	SignupBonusGranted bool      `db:"signup_bonus_granted" json:"signupBonusGranted"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

// Listing represents a diary offered on the market.
// Nullable columns are pointers: older rows were written without status and
// some carry no price at all.
type Listing struct {
	ID             string         `db:"id" json:"id"`
	DiaryID        string         `db:"diary_id" json:"diaryId"`
	SellerUID      string         `db:"seller_uid" json:"sellerUid"`
	OwnerName      string         `db:"owner_name" json:"ownerName"`
	Price          *int64         `db:"price" json:"price"`
	Status         *ListingStatus `db:"status" json:"status,omitempty"`
	IsSold         bool           `db:"is_sold" json:"isSold"`
	BuyerUID       *string        `db:"buyer_uid" json:"buyerUid"`
	PurchaseTxID   *string        `db:"purchase_tx_id" json:"purchaseTxId,omitempty"`
	SoldAt         *time.Time     `db:"sold_at" json:"soldAt,omitempty"`
	Content        string         `db:"content" json:"content"`
	Summary        *string        `db:"summary" json:"summary"`
	Interpretation *string        `db:"interpretation" json:"interpretation"`
	ImageURL       *string        `db:"image_url" json:"imageUrl"`
	Date           time.Time      `db:"date" json:"date"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// LedgerEntry is an immutable record of one balance change
type LedgerEntry struct {
	UID             string     `db:"uid" json:"uid"`
	ID              string     `db:"id" json:"id"`
	Amount          int64      `db:"amount" json:"amount"`
	Type            LedgerType `db:"type" json:"type"`
	RefType         string     `db:"ref_type" json:"refType"`
	RefID           string     `db:"ref_id" json:"refId"`
	CounterpartyUID *string    `db:"counterparty_uid" json:"counterpartyUid,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
}

// PurchaseRecord is stored under the buyer
type PurchaseRecord struct {
	BuyerUID       string    `db:"buyer_uid" json:"buyerUid"`
	PurchaseTxID   string    `db:"purchase_tx_id" json:"purchaseTxId"`
	ItemID         string    `db:"item_id" json:"itemId"`
	DiaryID        string    `db:"diary_id" json:"diaryId"`
	SellerUID      string    `db:"seller_uid" json:"sellerUid"`
	Price          int64     `db:"price" json:"price"`
	IdempotencyKey *string   `db:"idempotency_key" json:"-"`
	PurchasedAt    time.Time `db:"purchased_at" json:"purchasedAt"`
}

// SaleRecord is stored under the seller
type SaleRecord struct {
	SellerUID    string    `db:"seller_uid" json:"sellerUid"`
	PurchaseTxID string    `db:"purchase_tx_id" json:"purchaseTxId"`
	ItemID       string    `db:"item_id" json:"itemId"`
	DiaryID      string    `db:"diary_id" json:"diaryId"`
	BuyerUID     string    `db:"buyer_uid" json:"buyerUid"`
	Price        int64     `db:"price" json:"price"`
	SoldAt       time.Time `db:"sold_at" json:"soldAt"`
}

// Discrepancy reports an account whose ledger does not add up to its balance
type Discrepancy struct {
	UID       string `json:"uid"`
	Coins     int64  `json:"coins"`
	LedgerSum int64  `json:"ledgerSum"`
}
