package models

// Request models
type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

type PurchaseRequest struct {
	ItemID         string `json:"itemId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type CreateListingRequest struct {
	DiaryID        string `json:"diaryId"`
	Price          int64  `json:"price"`
	OwnerName      string `json:"ownerName"`
	Content        string `json:"content"`
	Summary        string `json:"summary"`
	Interpretation string `json:"interpretation"`
	ImageURL       string `json:"imageUrl"`
	Date           string `json:"date"` // ISO date sent by the client
}

// Response models
type GenerateImageResponse struct {
	Prompt   string `json:"prompt"`
	Path     string `json:"path"`
	ImageURL string `json:"imageUrl"`
}

type PurchaseResponse struct {
	PurchaseTxID string `json:"purchaseTxId"`
	SellerUID    string `json:"sellerUid"`
	DiaryID      string `json:"diaryId"`
	Price        int64  `json:"price"`
}

type CreateListingResponse struct {
	ID string `json:"id"`
}

type ListingResponse struct {
	Listing
	ResolvedStatus ListingStatus `json:"resolvedStatus"`
}

type LedgerResponse struct {
	Status  string        `json:"status"`
	UID     string        `json:"uid"`
	Entries []LedgerEntry `json:"entries"`
}

type PurchasesResponse struct {
	Status    string           `json:"status"`
	Purchases []PurchaseRecord `json:"purchases"`
}

type SalesResponse struct {
	Status string       `json:"status"`
	Sales  []SaleRecord `json:"sales"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
